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

const nanosPerSecond = 1_000_000_000

// Ticks returns the stable counter.
func (c *CPU) Ticks() uint64 {
	return c.machine.ReadTime()
}

// nanosPerTick returns the length of a tick in nanoseconds.
func (k *Kernel) nanosPerTick() uint64 {
	if k.TimerFrequency == 0 || k.TimerFrequency > nanosPerSecond {
		return 1
	}
	return nanosPerSecond / k.TimerFrequency
}

// TicksToNanos converts counter ticks to nanoseconds.
func (k *Kernel) TicksToNanos(ticks uint64) uint64 {
	return ticks * k.nanosPerTick()
}

// NanosToTicks converts nanoseconds to counter ticks.
func (k *Kernel) NanosToTicks(nanos uint64) uint64 {
	return nanos / k.nanosPerTick()
}

// Now returns the monotonic time in nanoseconds.
func (c *CPU) Now() uint64 {
	return c.kernel.TicksToNanos(c.Ticks())
}

// SetOneshotTimer arms the timer to fire at deadline, in monotonic
// nanoseconds. A deadline in the past fires as soon as possible.
func (c *CPU) SetOneshotTimer(deadline uint64) {
	now := c.Ticks()
	target := c.kernel.NanosToTicks(deadline)
	var initVal uint64
	if target > now {
		initVal = target - now
	}
	// The initial value must be a multiple of 4.
	initVal = (initVal + 3) &^ 3
	c.machine.WriteCSR(arch.CSR_TCFG, initVal&arch.TCFG_INIT_MASK|arch.TCFG_EN)
}

// InitTimer stops the timer and enables its interrupt line.
func (c *CPU) InitTimer() {
	c.machine.WriteCSR(arch.CSR_TCFG, arch.TCFG_EN)
	c.SetLineEnabled(arch.IRQ_TI, true)
}
