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

package checkpoint

import (
	"context"
	"io"

	"github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

// Result is the outcome of checkpointing tables on the source cluster. The
// two id lists are parallel, one entry per requested table.
type Result struct {
	SourceTableIDs []model.TableID
	CheckpointIDs  []string
	CheckpointTs   model.Ts
}

// Validate checks that the result holds exactly one table.
func (r *Result) Validate() error {
	if len(r.SourceTableIDs) != 1 || len(r.CheckpointIDs) != 1 {
		return errors.ErrXClusterUnexpectedCheckpointResult.GenWithStackByArgs(
			len(r.SourceTableIDs), len(r.CheckpointIDs))
	}
	return nil
}

// Callback receives the result of an asynchronous checkpoint call. It is
// invoked exactly once for every call that returned a nil error.
type Callback func(res Result, err error)

// Client talks to the source cluster.
type Client interface {
	// BootstrapProducer checkpoints the tables through the legacy bootstrap
	// protocol.
	BootstrapProducer(
		ctx context.Context, namespaceName string, schemaNames, tableNames []string, cb Callback,
	) error
	// GetTableCheckpointInfos returns the checkpoints a database scoped
	// group took for the tables.
	GetTableCheckpointInfos(
		ctx context.Context, groupID model.ReplicationGroupID, producerNamespaceID model.NamespaceID,
		tableNames, schemaNames []string, cb Callback,
	) error
}

// RemoteClient is a Client holding a connection.
type RemoteClient interface {
	Client
	io.Closer
}

// ClientFactory opens clients to the source cluster.
type ClientFactory interface {
	NewClient(ctx context.Context, masterAddrs []string) (RemoteClient, error)
}
