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

package ring0

import (
	"bytes"
	"fmt"
	"time"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
)

// spuriousLogPeriod limits how often spurious interrupts are reported.
const spuriousLogPeriod = time.Second

// Trap dispatches a trap taken on this core. It implements TrapHandler.
//
// Syscalls, page faults, breakpoints and interrupts are handled; anything
// else halts the core after dumping the frame.
func (c *CPU) Trap(frame *arch.Registers, fromUser bool) {
	t := DecodeTrap(arch.Estat(c.machine.ReadCSR(arch.CSR_ESTAT)))
	switch t.Cause {
	case CauseSyscall:
		if !c.kernel.UserSpace {
			c.fatal(frame, t, "system call with user space disabled")
		}
		ret := c.hooks.Syscall(c, frame, frame.SyscallNo())
		frame.SetReturn(ret)
		frame.AdvancePC()

	case CausePageFault:
		c.handlePageFault(frame, t, fromUser)

	case CauseBreakpoint:
		log.Debugf("CPU %d: breakpoint @ %#x", c.id, frame.Era)
		frame.AdvancePC()

	case CauseInterrupt:
		if t.IRQ < 0 {
			c.spurious.Warningf("CPU %d: spurious interrupt @ %#x", c.id, frame.Era)
			return
		}
		if !c.hooks.Interrupt(c, t.IRQ) {
			c.spurious.Warningf("CPU %d: unhandled interrupt %d", c.id, t.IRQ)
		}

	default:
		c.fatal(frame, t, "unhandled trap")
	}
}

// handlePageFault resolves a page fault through the kernel hooks.
func (c *CPU) handlePageFault(frame *arch.Registers, t TrapInfo, fromUser bool) {
	addr := hostarch.Addr(c.machine.ReadCSR(arch.CSR_BADV))
	access := t.Access
	if fromUser {
		access |= hostarch.User
	}
	if c.hooks.PageFault(c, addr, access, fromUser) {
		return
	}
	mode := "Supervisor"
	if fromUser {
		mode = "User"
	}
	c.fatal(frame, t, fmt.Sprintf("Unhandled %s Page Fault @ %#x, fault_vaddr=%v (%v)", mode, frame.Era, addr, access))
}

// fatal dumps the frame and halts the core.
func (c *CPU) fatal(frame *arch.Registers, t TrapInfo, msg string) {
	var buf bytes.Buffer
	frame.Dump(&buf)
	log.Warningf("CPU %d: %s: %v, estat=%#x badv=%#x\n%s", c.id, msg, t,
		c.machine.ReadCSR(arch.CSR_ESTAT), c.machine.ReadCSR(arch.CSR_BADV), buf.String())
	c.machine.Halt()
	panic("unreachable")
}
