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

package kernel

import (
	"encoding/binary"

	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
)

// SyscallFn is a system call implementation. A non-nil error is returned to
// user space as a negated errno.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, error)

// Syscall is one entry of a SyscallTable.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable maps syscall numbers to implementations.
type SyscallTable struct {
	// Table holds the implemented syscalls.
	Table map[uintptr]Syscall

	// Missing is called for numbers not in Table.
	Missing func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)
}

// Lookup returns the implementation of sysno.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok
}

// maxRWCount caps the bytes moved by one write, as Linux's MAX_RW_COUNT.
const maxRWCount = 0x7fff_ffff &^ (hostarch.PageSize - 1)

// iovecSize is the size of struct iovec.
const iovecSize = 16

// maxIovecs is UIO_MAXIOV.
const maxIovecs = 1024

// clockMonotonic is CLOCK_MONOTONIC.
const clockMonotonic = 1

// Syscalls is the table installed in new kernels.
var Syscalls = &SyscallTable{
	Table: map[uintptr]Syscall{
		linux.SYS_WRITE:         {"write", Write},
		linux.SYS_WRITEV:        {"writev", Writev},
		linux.SYS_EXIT:          {"exit", Exit},
		linux.SYS_EXIT_GROUP:    {"exit_group", Exit},
		linux.SYS_CLOCK_GETTIME: {"clock_gettime", ClockGettime},
		linux.SYS_SCHED_YIELD:   {"sched_yield", SchedYield},
		linux.SYS_GETPID:        {"getpid", Getpid},
		linux.SYS_GETTID:        {"gettid", Getpid},
	},
	Missing: func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
		log.Debugf("Task %d: unimplemented syscall %d", t.tid, sysno)
		return 0, linuxerr.ENOSYS
	},
}

// Write implements write(2) on standard output and standard error.
func Write(t *Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()
	if fd != 1 && fd != 2 {
		return 0, linuxerr.EBADF
	}
	if int(size) < 0 {
		return 0, linuxerr.EINVAL
	}
	n, err := t.writeConsole(addr, min(int(size), maxRWCount))
	return uintptr(n), err
}

// Writev implements writev(2) on standard output and standard error.
func Writev(t *Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	iovAddr := args[1].Pointer()
	iovCnt := int(args[2].Int())
	if fd != 1 && fd != 2 {
		return 0, linuxerr.EBADF
	}
	if iovCnt < 0 || iovCnt > maxIovecs {
		return 0, linuxerr.EINVAL
	}
	iovs := make([]byte, iovCnt*iovecSize)
	if _, err := t.mm.CopyIn(iovAddr, iovs); err != nil {
		return 0, linuxerr.EFAULT
	}
	total := 0
	for i := 0; i < iovCnt; i++ {
		base := hostarch.Addr(binary.LittleEndian.Uint64(iovs[i*iovecSize:]))
		size := binary.LittleEndian.Uint64(iovs[i*iovecSize+8:])
		if size > uint64(maxRWCount-total) {
			size = uint64(maxRWCount - total)
		}
		n, err := t.writeConsole(base, int(size))
		total += n
		if err != nil {
			if total > 0 {
				return uintptr(total), nil
			}
			return 0, err
		}
	}
	return uintptr(total), nil
}

// writeConsole copies size bytes at addr to the console a page at a time. It
// fails with EFAULT only if nothing could be copied.
func (t *Task) writeConsole(addr hostarch.Addr, size int) (int, error) {
	var buf [hostarch.PageSize]byte
	done := 0
	for done < size {
		chunk := buf[:min(size-done, len(buf))]
		n, err := t.mm.CopyIn(addr+hostarch.Addr(done), chunk)
		if n > 0 {
			if _, werr := t.k.opts.Console.Write(chunk[:n]); werr != nil {
				return done, werr
			}
			done += n
		}
		if err != nil {
			if done > 0 {
				return done, nil
			}
			return 0, linuxerr.EFAULT
		}
	}
	return done, nil
}

// Exit implements exit(2) and exit_group(2). Tasks are single threaded, so
// both end the calling task.
func Exit(t *Task, args arch.SyscallArguments) (uintptr, error) {
	t.exit(int(args[0].Int()))
	panic("unreachable")
}

// ClockGettime implements clock_gettime(2) for CLOCK_MONOTONIC.
func ClockGettime(t *Task, args arch.SyscallArguments) (uintptr, error) {
	if args[0].Int() != clockMonotonic {
		return 0, linuxerr.EINVAL
	}
	now := t.cpu.Now()
	var ts [16]byte
	binary.LittleEndian.PutUint64(ts[0:], now/1e9)
	binary.LittleEndian.PutUint64(ts[8:], now%1e9)
	if _, err := t.mm.CopyOut(args[1].Pointer(), ts[:]); err != nil {
		return 0, linuxerr.EFAULT
	}
	return 0, nil
}

// SchedYield implements sched_yield(2).
func SchedYield(t *Task, args arch.SyscallArguments) (uintptr, error) {
	t.Yield()
	return 0, nil
}

// Getpid implements getpid(2) and gettid(2).
func Getpid(t *Task, args arch.SyscallArguments) (uintptr, error) {
	return uintptr(t.tid), nil
}
