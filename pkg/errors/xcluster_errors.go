// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// replication group related errors
	ErrReplicationGroupNotFound = errors.Normalize(
		"replication group not found, %s",
		errors.RFCCodeText("XC:ErrReplicationGroupNotFound"),
	)
	ErrReplicationGroupAlreadyExists = errors.Normalize(
		"replication group already exists, %s",
		errors.RFCCodeText("XC:ErrReplicationGroupAlreadyExists"),
	)
	ErrReplicationGroupNotActive = errors.Normalize(
		"replication group %s is not active, state: %s",
		errors.RFCCodeText("XC:ErrReplicationGroupNotActive"),
	)
	ErrReplicationGroupUpdateConflict = errors.Normalize(
		"replication group %s was modified concurrently",
		errors.RFCCodeText("XC:ErrReplicationGroupUpdateConflict"),
	)
	ErrTableAlreadyInReplicationGroup = errors.Normalize(
		"table %s is already part of replication group %s",
		errors.RFCCodeText("XC:ErrTableAlreadyInReplicationGroup"),
	)
	ErrInvalidAlterRequest = errors.Normalize(
		"invalid alter replication group request: %s",
		errors.RFCCodeText("XC:ErrInvalidAlterRequest"),
	)
	ErrXClusterAlterReplicationFailed = errors.Normalize(
		"alter replication group %s failed: %s",
		errors.RFCCodeText("XC:ErrXClusterAlterReplicationFailed"),
	)
	ErrSetupReplicationNotFound = errors.Normalize(
		"setup replication operation not found for replication group %s",
		errors.RFCCodeText("XC:ErrSetupReplicationNotFound"),
	)
	ErrSetupReplicationFailed = errors.Normalize(
		"setup replication failed for replication group %s",
		errors.RFCCodeText("XC:ErrSetupReplicationFailed"),
	)
	ErrProducerNamespaceNotFound = errors.Normalize(
		"producer namespace not found for consumer namespace %s in replication group %s",
		errors.RFCCodeText("XC:ErrProducerNamespaceNotFound"),
	)

	// checkpoint related errors
	ErrXClusterBootstrapFailed = errors.Normalize(
		"failed to bootstrap table for xCluster replication group %s",
		errors.RFCCodeText("XC:ErrXClusterBootstrapFailed"),
	)
	ErrXClusterBootstrapFailureInjected = errors.Normalize(
		"injected xCluster bootstrap failure for table %s",
		errors.RFCCodeText("XC:ErrXClusterBootstrapFailureInjected"),
	)
	ErrXClusterUnexpectedCheckpointResult = errors.Normalize(
		"unexpected checkpoint result, expect exactly one entry, got %d source table ids and %d checkpoint ids",
		errors.RFCCodeText("XC:ErrXClusterUnexpectedCheckpointResult"),
	)
	ErrXClusterInvalidCheckpoint = errors.Normalize(
		"xCluster bootstrap time is not valid %d",
		errors.RFCCodeText("XC:ErrXClusterInvalidCheckpoint"),
	)
	ErrRemoteClientClosed = errors.Normalize(
		"remote client to %s is closed",
		errors.RFCCodeText("XC:ErrRemoteClientClosed"),
	)
	ErrSourceTableNotFound = errors.Normalize(
		"source table %s.%s not found in namespace %s",
		errors.RFCCodeText("XC:ErrSourceTableNotFound"),
	)

	// safe time related errors
	ErrXClusterSafeTimeNotFound = errors.Normalize(
		"namespace %s is not part of any xCluster replication",
		errors.RFCCodeText("XC:ErrXClusterSafeTimeNotFound"),
	)
	ErrXClusterInvalidSafeTime = errors.Normalize(
		"invalid safe time %d for namespace %s",
		errors.RFCCodeText("XC:ErrXClusterInvalidSafeTime"),
	)
	ErrNotLeader = errors.Normalize(
		"leader epoch %d is stale, current epoch %d",
		errors.RFCCodeText("XC:ErrNotLeader"),
	)

	// task and scheduling errors
	ErrXClusterTaskTimeout = errors.Normalize(
		"task %s did not finish before its deadline",
		errors.RFCCodeText("XC:ErrXClusterTaskTimeout"),
	)
	ErrTaskAlreadyFinished = errors.Normalize(
		"task %s already finished",
		errors.RFCCodeText("XC:ErrTaskAlreadyFinished"),
	)
	ErrStepAlreadyRunning = errors.Normalize(
		"task %s already has a step in flight, step: %s",
		errors.RFCCodeText("XC:ErrStepAlreadyRunning"),
	)
	ErrXClusterDuplicateMutation = errors.Normalize(
		"task %s already altered replication group %s",
		errors.RFCCodeText("XC:ErrXClusterDuplicateMutation"),
	)
	ErrAsyncPoolExited = errors.Normalize(
		"async pool exited",
		errors.RFCCodeText("XC:ErrAsyncPoolExited"),
	)
	ErrReachMaxTry = errors.Normalize(
		"reach maximum try: %s, error: %s",
		errors.RFCCodeText("XC:ErrReachMaxTry"),
	)

	// configuration and storage errors
	ErrInvalidServerOption = errors.Normalize(
		"invalid server option: %s",
		errors.RFCCodeText("XC:ErrInvalidServerOption"),
	)
	ErrEncodeFailed = errors.Normalize(
		"encode failed: %s",
		errors.RFCCodeText("XC:ErrEncodeFailed"),
	)
	ErrDecodeFailed = errors.Normalize(
		"decode failed: %s",
		errors.RFCCodeText("XC:ErrDecodeFailed"),
	)
	ErrEtcdTryAgain = errors.Normalize(
		"the etcd txn should be aborted and retried immediately",
		errors.RFCCodeText("XC:ErrEtcdTryAgain"),
	)
	ErrEtcdAPIError = errors.Normalize(
		"etcd api call error",
		errors.RFCCodeText("XC:ErrEtcdAPIError"),
	)
)
