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
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/irq"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/ring0"
)

var _ ring0.Hooks = (*Kernel)(nil)

// Syscall implements ring0.Hooks.Syscall.
func (k *Kernel) Syscall(c *ring0.CPU, frame *arch.Registers, sysno uintptr) uintptr {
	t := k.cpuOf(c).current
	if t == nil || t.mm == nil {
		log.Warningf("CPU %d: syscall %d with no user task", c.ID(), sysno)
		return linuxerr.SyscallReturn(linuxerr.ENOSYS)
	}
	args := frame.SyscallArgs()
	var (
		ret uintptr
		err error
	)
	if sc, ok := Syscalls.Lookup(sysno); ok {
		ret, err = sc.Fn(t, args)
		log.Debugf("Task %d: %s(%#x, %#x, %#x) = %#x, %v", t.tid, sc.Name, args[0].Value, args[1].Value, args[2].Value, ret, err)
	} else {
		ret, err = Syscalls.Missing(t, sysno, args)
	}
	if err != nil {
		return linuxerr.SyscallReturn(err)
	}
	return ret
}

// PageFault implements ring0.Hooks.PageFault. Faults are resolved against
// the address space of the running task; the kernel half is never demand
// paged.
func (k *Kernel) PageFault(c *ring0.CPU, addr hostarch.Addr, access hostarch.MappingFlags, fromUser bool) bool {
	t := k.cpuOf(c).current
	if t == nil || t.mm == nil {
		return false
	}
	return t.mm.HandlePageFault(addr, access)
}

// Interrupt implements ring0.Hooks.Interrupt. The timer also ends the
// current time slice.
func (k *Kernel) Interrupt(c *ring0.CPU, cause int) bool {
	handled := k.irqs.Dispatch(c, cause)
	if cause == irq.TimerIRQ {
		k.cpuOf(c).tick()
	}
	return handled
}
