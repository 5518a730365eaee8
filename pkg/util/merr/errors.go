// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceNotReady    = newBridgeError("service not ready", 1, true)
	ErrServiceUnavailable = newBridgeError("service unavailable", 2, true)
	ErrServiceInternal    = newBridgeError("service internal error", 5, false)

	// Session related
	ErrSessionNotFound = newBridgeError("session not found", 100, false)
	ErrSessionClosed   = newBridgeError("session closed", 101, false)
	ErrRoleUnknown     = newBridgeError("unknown session role", 102, false)

	// Wire related
	ErrDecodeFailed = newBridgeError("decode failed", 200, false)
	ErrEncodeFailed = newBridgeError("encode failed", 201, false)

	// Raster related
	ErrImageSizeMismatch = newBridgeError("image size mismatch", 300, false)
	ErrImageDecode       = newBridgeError("image decode failed", 301, false)
	ErrImagePersist      = newBridgeError("image persist failed", 302, true)

	// IO related
	ErrIoKeyNotFound = newBridgeError("key not found", 1000, false)
	ErrIoFailed      = newBridgeError("IO failed", 1001, false)

	// Parameter related
	ErrParameterInvalid  = newBridgeError("invalid parameter", 1100, false)
	ErrParameterMissing  = newBridgeError("missing parameter", 1101, false)
	ErrParameterTooLarge = newBridgeError("parameter too large", 1102, false)

	// General
	ErrOperationNotSupported = newBridgeError("unsupported operation", 3000, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to bridgeError
	errUnexpected = newBridgeError("unexpected error", (1<<16)-1, false)
)

type bridgeError struct {
	msg       string
	retriable bool
	errCode   int32
}

func newBridgeError(msg string, code int32, retriable bool) bridgeError {
	return bridgeError{
		msg:       msg,
		retriable: retriable,
		errCode:   code,
	}
}

func (e bridgeError) code() int32 {
	return e.errCode
}

func (e bridgeError) Error() string {
	return e.msg
}

func (e bridgeError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(bridgeError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
