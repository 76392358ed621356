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
	"context"

	"github.com/pingcap/errors"
)

// WrapError generates a new error based on given `*errors.Error` formatted
// with args, and keeps err as its cause.
// If given `err` is nil, returns a nil error, which is different from the
// `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}

var notFoundErrors = []*errors.Error{
	ErrReplicationGroupNotFound,
	ErrXClusterSafeTimeNotFound,
	ErrSetupReplicationNotFound,
	ErrProducerNamespaceNotFound,
	ErrSourceTableNotFound,
}

// IsNotFound reports whether err denotes a missing entity. Not-found is an
// alternate success path for some callers rather than a failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range notFoundErrors {
		if Is(err, e) {
			return true
		}
	}
	return false
}

var retryableErrors = []*errors.Error{
	ErrReplicationGroupUpdateConflict,
	ErrEtcdTryAgain,
	ErrAsyncPoolExited,
}

// IsRetryableError check the error is safe or worth to retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch errors.Cause(err) {
	case context.Canceled, context.DeadlineExceeded:
		return false
	}
	for _, e := range retryableErrors {
		if Is(err, e) {
			return true
		}
	}
	return false
}

// Is reports whether any error in err's chain carries the RFC code of target.
// Unlike target.Equal, it also matches errors produced by WrapError, whose
// root cause is the foreign error.
func Is(err error, target *errors.Error) bool {
	for err != nil {
		if e, ok := err.(*errors.Error); ok && e.RFCCode() == target.RFCCode() {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}

// RFCCode returns the RFC code of the outermost normalized error in err's chain.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	for err != nil {
		if e, ok := err.(*errors.Error); ok {
			return e.RFCCode(), true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return "", false
		}
	}
	return "", false
}
