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
	"thcore.dev/thcore/pkg/arch"
)

// SwitchTo switches from the running task, whose state is saved into cur, to
// next. It returns when cur is switched back to.
//
// Preconditions: interrupts are disabled and next was initialized with
// TaskContext.Init or saved by an earlier switch.
func (c *CPU) SwitchTo(cur, next *arch.TaskContext) {
	if c.kernel.TLS {
		cur.TP = c.machine.ThreadPointer()
		c.machine.SetThreadPointer(next.TP)
	}
	if c.kernel.UserSpace && cur.PGDL != next.PGDL {
		c.machine.WriteCSR(arch.CSR_PGDL, next.PGDL)
		c.machine.InvalidateTLB(InvalidateAll, 0)
	}
	c.machine.ContextSwitch(cur, next)
}

// EnterUser enters user mode with the state in uc. Traps taken from user
// mode run on the kernel stack ending at kstackTop. It does not return.
func (c *CPU) EnterUser(uc *arch.UserContext, kstackTop uintptr) {
	c.DisableInterrupts()
	frame := uc.Registers()
	frame.Prmd = arch.PRMD_USER
	c.machine.WriteCSR(arch.CSR_PRMD, frame.Prmd)
	c.machine.WriteCSR(arch.CSR_ERA, uint64(uc.IP()))
	c.SetEntryStack(kstackTop)
	c.machine.ReturnToUser(frame)
	c.machine.Halt()
	panic("unreachable")
}

// SetEntryStack publishes the kernel stack that traps from user mode switch
// to. A scheduler resuming a task that was interrupted in user mode must call
// it with that task's stack before the switch.
func (c *CPU) SetEntryStack(kstackTop uintptr) {
	c.kernel.entryStacks[c.id].Store(kstackTop)
	c.machine.WriteCSR(arch.CSR_KSAVE_KSP, uint64(kstackTop))
}
