// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"thcore.dev/thcore/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name, but carry a message. The Errno method returns the number, so
// EPERM.Errno() == unix.EPERM is true.
var (
	EPERM   = errors.New(unix.EPERM, "operation not permitted")
	ENOENT  = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH   = errors.New(unix.ESRCH, "no such process")
	E2BIG   = errors.New(unix.E2BIG, "argument list too long")
	ENOEXEC = errors.New(unix.ENOEXEC, "exec format error")
	EBADF   = errors.New(unix.EBADF, "bad file number")
	ENOMEM  = errors.New(unix.ENOMEM, "out of memory")
	EACCES  = errors.New(unix.EACCES, "permission denied")
	EFAULT  = errors.New(unix.EFAULT, "bad address")
	EBUSY   = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST  = errors.New(unix.EEXIST, "file exists")
	EINVAL  = errors.New(unix.EINVAL, "invalid argument")
	ENOSYS  = errors.New(unix.ENOSYS, "invalid system call number")
	ELOOP   = errors.New(unix.ELOOP, "too many symbolic links encountered")
)

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != nil {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	if e == nil {
		return false
	}
	if n, ok := TranslateError(err); ok {
		return n == e.Errno()
	}
	return false
}

// TranslateError extracts the errno carried by err, looking through wrapped
// errors. It returns false if err carries no errno.
func TranslateError(err error) (unix.Errno, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno(), true
	}
	var n unix.Errno
	if goerrors.As(err, &n) {
		return n, true
	}
	return 0, false
}

// SyscallReturn encodes err as the value placed in the return register: zero
// for nil, the negated errno otherwise. Errors without an errno map to EINVAL.
func SyscallReturn(err error) uintptr {
	if err == nil {
		return 0
	}
	n, ok := TranslateError(err)
	if !ok {
		n = unix.EINVAL
	}
	return uintptr(-int64(n))
}
