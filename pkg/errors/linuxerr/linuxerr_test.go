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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"thcore.dev/thcore/pkg/errors"
)

func TestEquals(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", ENOEXEC)
	custom := errors.New(unix.ENOEXEC, "invalid ELF magic")
	for _, tc := range []struct {
		name string
		e    *errors.Error
		err  error
		want bool
	}{
		{name: "identical", e: ENOEXEC, err: ENOEXEC, want: true},
		{name: "wrapped", e: ENOEXEC, err: wrapped, want: true},
		{name: "same errno different message", e: ENOEXEC, err: custom, want: true},
		{name: "bare errno", e: EFAULT, err: unix.EFAULT, want: true},
		{name: "different", e: EINVAL, err: ENOEXEC, want: false},
		{name: "nil", e: nil, err: nil, want: true},
		{name: "nil vs error", e: nil, err: EINVAL, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(tc.e, tc.err); got != tc.want {
				t.Errorf("Equals(%v, %v) = %t, want %t", tc.e, tc.err, got, tc.want)
			}
		})
	}
}

func TestSyscallReturn(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int64
	}{
		{err: nil, want: 0},
		{err: ENOSYS, want: -int64(unix.ENOSYS)},
		{err: fmt.Errorf("exec: %w", ENOEXEC), want: -int64(unix.ENOEXEC)},
		{err: fmt.Errorf("opaque"), want: -int64(unix.EINVAL)},
	} {
		if got := int64(SyscallReturn(tc.err)); got != tc.want {
			t.Errorf("SyscallReturn(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
