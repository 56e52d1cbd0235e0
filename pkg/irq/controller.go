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

package irq

import (
	"fmt"
	"sync/atomic"

	"thcore.dev/thcore/pkg/arch"
)

// Platform interrupt numbers.
const (
	// MaxIRQCount is the size of the general handler table.
	MaxIRQCount = 256

	// TimerIRQ is the cause number of the core-local timer.
	TimerIRQ = arch.IRQ_TI

	// ExtIRQ is the cause number of the external interrupt controller.
	ExtIRQ = arch.IRQ_HWI0

	// numLines is the number of line-based interrupts that can be masked
	// in ECFG.
	numLines = 13
)

// Chip is the interrupt hardware of the local core.
type Chip interface {
	// ClearTimerInterrupt acknowledges a pending timer interrupt.
	ClearTimerInterrupt()

	// SetLineEnabled unmasks or masks a line-based interrupt.
	SetLineEnabled(line int, enabled bool)
}

// Controller routes causes to handlers. The timer has a dedicated
// single-assignment slot; every other cause goes through the general table.
type Controller struct {
	timer atomic.Pointer[Handler]
	table *Table

	// unhandled counts dispatches that found no handler.
	unhandled atomic.Uint64
}

// NewController returns a controller with an empty table of MaxIRQCount
// slots.
func NewController() *Controller {
	return &Controller{table: NewTable(MaxIRQCount)}
}

// Register installs h for cause. It returns false if a handler is already
// installed, the cause is out of range or h is nil.
func (c *Controller) Register(cause int, h Handler) bool {
	if cause == TimerIRQ {
		if h == nil {
			return false
		}
		return c.timer.CompareAndSwap(nil, &h)
	}
	return c.table.Register(cause, h)
}

// Unregister removes and returns the handler for cause.
func (c *Controller) Unregister(cause int) (Handler, bool) {
	if cause == TimerIRQ {
		if p := c.timer.Swap(nil); p != nil {
			return *p, true
		}
		return nil, false
	}
	return c.table.Unregister(cause)
}

// Dispatch runs the handler for cause and reports whether one ran. A timer
// interrupt is acknowledged on chip before its handler is invoked, and is
// acknowledged even when no handler is installed.
func (c *Controller) Dispatch(chip Chip, cause int) bool {
	if cause == TimerIRQ {
		chip.ClearTimerInterrupt()
		if p := c.timer.Load(); p != nil {
			(*p)()
			return true
		}
		c.unhandled.Add(1)
		return false
	}
	if c.table.Handle(cause) {
		return true
	}
	c.unhandled.Add(1)
	return false
}

// SetEnabled masks or unmasks a line-based cause on chip. Causes beyond the
// line-based range are routed by the external controller and are left
// alone.
func (c *Controller) SetEnabled(chip Chip, cause int, enabled bool) {
	if cause < 0 {
		panic(fmt.Sprintf("invalid interrupt cause %d", cause))
	}
	if cause < numLines {
		chip.SetLineEnabled(cause, enabled)
	}
}

// Installed returns true if a handler is installed for cause.
func (c *Controller) Installed(cause int) bool {
	if cause == TimerIRQ {
		return c.timer.Load() != nil
	}
	return c.table.Installed(cause)
}

// Unhandled returns the number of dispatches that found no handler.
func (c *Controller) Unhandled() uint64 {
	return c.unhandled.Load()
}
