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

package emulated

import (
	"math/bits"
	"runtime"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/log"
)

// enterTrap takes an exception with the given code on frame, calls the trap
// handler and returns from it. It mirrors the hardware: ESTAT, ERA, BADV and
// PRMD are latched, CRMD drops to privilege level 0 with interrupts off, and
// traps from user mode run on the stack in KSAVE_KSP.
func (c *Core) enterTrap(frame *arch.Registers, code arch.Ecode, badv uint64, fromUser bool) {
	c.mu.Lock()
	h := c.handler
	if h == nil {
		c.mu.Unlock()
		c.halt("trap with no handler installed")
	}
	c.csrs[arch.CSR_ESTAT] = c.csrs[arch.CSR_ESTAT]&arch.ESTAT_IS_MASK | uint64(arch.MakeEstat(code, 0, 0))
	if code != arch.EcodeINT {
		c.csrs[arch.CSR_BADV] = badv
	}
	c.csrs[arch.CSR_ERA] = frame.Era
	crmd := c.csrs[arch.CSR_CRMD]
	prmd := c.csrs[arch.CSR_PRMD]&^(arch.PRMD_PPLV_MASK|arch.PRMD_PIE) |
		crmd&arch.CRMD_PLV_MASK | crmd&arch.CRMD_IE
	c.csrs[arch.CSR_PRMD] = prmd
	c.csrs[arch.CSR_CRMD] = crmd &^ (arch.CRMD_PLV_MASK | arch.CRMD_IE)
	if fromUser {
		ksp := c.csrs[arch.CSR_KSAVE_KSP]
		if ksp == 0 {
			c.mu.Unlock()
			c.halt("trap from user mode with no kernel stack")
		}
		c.trapStack = ksp
	}
	frame.Prmd = prmd
	frame.Crmd = c.csrs[arch.CSR_CRMD]
	frame.Badv = c.csrs[arch.CSR_BADV]
	c.mu.Unlock()

	log.Debugf("Core %d: trap %v @ %#x (user=%t)", c.id, code, frame.Era, fromUser)
	h.Trap(frame, fromUser)
	c.ertn(frame)
}

// ertn restores PRMD and ERA from frame and returns to the mode they
// describe.
func (c *Core) ertn(frame *arch.Registers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrs[arch.CSR_PRMD] = frame.Prmd
	c.csrs[arch.CSR_ERA] = frame.Era
	c.csrs[arch.CSR_CRMD] = c.csrs[arch.CSR_CRMD]&^(arch.CRMD_PLV_MASK|arch.CRMD_IE) |
		frame.Prmd&arch.PRMD_PPLV_MASK | frame.Prmd&arch.PRMD_PIE
}

// RaiseException takes an exception in kernel mode, as if the kernel
// instruction at KernelTextBase raised it, and returns the frame after the
// handler returns. It must be called from code running on the core.
func (c *Core) RaiseException(code arch.Ecode, badv uint64) arch.Registers {
	frame := arch.Registers{Era: KernelTextBase}
	c.enterTrap(&frame, code, badv, false)
	return frame
}

// RaiseInterrupt makes line pending. It may be called from any goroutine;
// the interrupt is taken by the core once the line is enabled and the core
// runs with interrupts on.
//
// Lines other than the timer are latched until taken once.
func (c *Core) RaiseInterrupt(line int) {
	c.mu.Lock()
	c.csrs[arch.CSR_ESTAT] |= uint64(1) << uint(line) & arch.ESTAT_IS_MASK
	c.mu.Unlock()
	c.signal()
}

func (c *Core) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pendingLocked returns the pending lines that are enabled.
//
// Preconditions: c.mu is locked.
func (c *Core) pendingLocked() uint64 {
	return c.csrs[arch.CSR_ESTAT] & c.csrs[arch.CSR_ECFG] & arch.ECFG_LIE_MASK
}

// deliverable returns whether an interrupt would be taken now.
func (c *Core) deliverable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrs[arch.CSR_CRMD]&arch.CRMD_IE != 0 && c.pendingLocked() != 0
}

// takeInterrupt takes one interrupt on frame.
func (c *Core) takeInterrupt(frame *arch.Registers, fromUser bool) {
	c.mu.Lock()
	is := c.csrs[arch.CSR_ESTAT] & arch.ESTAT_IS_MASK
	c.mu.Unlock()
	c.enterTrap(frame, arch.EcodeINT, 0, fromUser)
	if line := bits.TrailingZeros64(is); line != arch.IRQ_TI && is != 0 {
		c.mu.Lock()
		c.csrs[arch.CSR_ESTAT] &^= 1 << uint(line)
		c.mu.Unlock()
	}
}

// pollKernel takes pending interrupts in kernel mode.
func (c *Core) pollKernel() {
	for c.deliverable() {
		frame := arch.Registers{Era: KernelTextBase}
		c.takeInterrupt(&frame, false)
	}
}

// WaitForInterrupt implements ring0.Machine.WaitForInterrupt. With nothing
// pending and the timer armed, the board clock skips ahead to the deadline.
// A stopped core never wakes.
func (c *Core) WaitForInterrupt() {
	for {
		select {
		case <-c.stopped:
			runtime.Goexit()
		default:
		}
		c.mu.Lock()
		pending := c.pendingLocked() != 0
		armed, left := c.timerArmed, c.timerLeft
		c.mu.Unlock()
		if pending {
			break
		}
		if armed {
			c.board.Advance(left)
			continue
		}
		c.park(c.wake)
	}
	c.pollKernel()
}

// tick counts the timer down.
func (c *Core) tick(ticks uint64) {
	c.mu.Lock()
	fired := false
	if c.timerArmed {
		if ticks >= c.timerLeft {
			fired = true
			c.csrs[arch.CSR_ESTAT] |= 1 << arch.IRQ_TI
			tcfg := c.csrs[arch.CSR_TCFG]
			if tcfg&arch.TCFG_PERIODIC != 0 {
				c.timerLeft = tcfg & arch.TCFG_INIT_MASK
			} else {
				c.timerArmed = false
				c.timerLeft = 0
			}
		} else {
			c.timerLeft -= ticks
		}
	}
	c.mu.Unlock()
	if fired {
		c.signal()
	}
}
