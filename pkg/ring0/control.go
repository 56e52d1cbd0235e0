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

// EnableInterrupts sets CRMD.IE.
func (c *CPU) EnableInterrupts() {
	c.machine.WriteCSR(arch.CSR_CRMD, c.machine.ReadCSR(arch.CSR_CRMD)|arch.CRMD_IE)
}

// DisableInterrupts clears CRMD.IE.
func (c *CPU) DisableInterrupts() {
	c.machine.WriteCSR(arch.CSR_CRMD, c.machine.ReadCSR(arch.CSR_CRMD)&^arch.CRMD_IE)
}

// InterruptsEnabled returns CRMD.IE.
func (c *CPU) InterruptsEnabled() bool {
	return c.machine.ReadCSR(arch.CSR_CRMD)&arch.CRMD_IE != 0
}

// WaitForInterrupt idles the core until an interrupt is pending.
func (c *CPU) WaitForInterrupt() {
	c.machine.WaitForInterrupt()
}

// Halt stops the core. It does not return.
func (c *CPU) Halt() {
	c.machine.Halt()
	panic("unreachable")
}

// PageTableRoot returns the physical address of the table used for the
// current translation.
func (c *CPU) PageTableRoot() uintptr {
	return uintptr(c.machine.ReadCSR(arch.CSR_PGD))
}

// SetKernelPageTableRoot installs the table for the upper half and flushes
// the TLB.
func (c *CPU) SetKernelPageTableRoot(root uintptr) {
	c.machine.WriteCSR(arch.CSR_PGDH, uint64(root))
	c.FlushTLB(0)
}

// SetUserPageTableRoot installs the table for the lower half and flushes
// the TLB.
func (c *CPU) SetUserPageTableRoot(root uintptr) {
	c.machine.WriteCSR(arch.CSR_PGDL, uint64(root))
	c.FlushTLB(0)
}

// FlushTLB invalidates the entry for addr, or the whole TLB if addr is 0.
func (c *CPU) FlushTLB(addr uintptr) {
	if addr == 0 {
		c.machine.InvalidateTLB(InvalidateAll, 0)
		return
	}
	c.machine.InvalidateTLB(InvalidateAddr, addr)
}

// ClearTimerInterrupt acknowledges the timer interrupt. It implements
// irq.Chip.
func (c *CPU) ClearTimerInterrupt() {
	c.machine.WriteCSR(arch.CSR_TICLR, arch.TICLR_CLR)
}

// SetLineEnabled sets or clears a line in ECFG.LIE. It implements irq.Chip.
func (c *CPU) SetLineEnabled(line int, enabled bool) {
	ecfg := c.machine.ReadCSR(arch.CSR_ECFG)
	bit := uint64(1) << uint(line)
	if enabled {
		ecfg |= bit
	} else {
		ecfg &^= bit
	}
	c.machine.WriteCSR(arch.CSR_ECFG, ecfg)
}
