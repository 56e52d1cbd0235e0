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
	"fmt"
	"runtime"
	"sync"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/ring0"
)

// Flush is a recorded TLB invalidation.
type Flush struct {
	Op   uint8
	Addr uintptr
}

// Core is one core of a Board. It implements ring0.Machine.
type Core struct {
	board *Board
	id    int

	mu sync.Mutex

	// csrs holds every CSR except CPUID and TVAL, which are derived.
	csrs map[uint16]uint64

	tp uint64

	// timerLeft is the number of ticks until the timer fires. It is only
	// meaningful when timerArmed is set.
	timerLeft  uint64
	timerArmed bool

	flushes   []Flush
	switches  int
	trapStack uint64
	handler   ring0.TrapHandler

	// entries maps the s0 argument of fresh tasks to their functions.
	entries map[uint64]func()
	nextArg uint64

	// batons holds, per task context, the channel its goroutine waits on
	// while switched out.
	batons map[*arch.TaskContext]chan struct{}

	// wake is signalled when an interrupt line becomes pending.
	wake chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	reason   string
}

var _ ring0.Machine = (*Core)(nil)

func newCore(b *Board, id int) *Core {
	return &Core{
		board:   b,
		id:      id,
		csrs:    make(map[uint16]uint64),
		entries: make(map[uint64]func()),
		batons:  make(map[*arch.TaskContext]chan struct{}),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// ID returns the core number.
func (c *Core) ID() int {
	return c.id
}

// ReadCSR implements ring0.Machine.ReadCSR.
func (c *Core) ReadCSR(csr uint16) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch csr {
	case arch.CSR_CPUID:
		return uint64(c.id)
	case arch.CSR_TVAL:
		if !c.timerArmed {
			return 0
		}
		return c.timerLeft
	default:
		return c.csrs[csr]
	}
}

// WriteCSR implements ring0.Machine.WriteCSR.
//
// Writes that may unmask a pending interrupt deliver it before returning.
func (c *Core) WriteCSR(csr uint16, val uint64) {
	c.mu.Lock()
	switch csr {
	case arch.CSR_CPUID, arch.CSR_TVAL:
		// Read only.
	case arch.CSR_ESTAT:
		// Only the software interrupt lines are writable.
		const swi = 1<<arch.IRQ_SWI0 | 1<<arch.IRQ_SWI1
		c.csrs[csr] = c.csrs[csr]&^swi | val&swi
	case arch.CSR_TICLR:
		if val&arch.TICLR_CLR != 0 {
			c.csrs[arch.CSR_ESTAT] &^= 1 << arch.IRQ_TI
		}
	case arch.CSR_TCFG:
		c.csrs[csr] = val
		c.timerLeft = val & arch.TCFG_INIT_MASK
		// A zero initial value leaves the timer idle.
		c.timerArmed = val&arch.TCFG_EN != 0 && c.timerLeft != 0
	default:
		c.csrs[csr] = val
	}
	c.mu.Unlock()
	switch csr {
	case arch.CSR_CRMD, arch.CSR_ECFG, arch.CSR_ESTAT:
		c.pollKernel()
	}
}

// ReadTime implements ring0.Machine.ReadTime.
func (c *Core) ReadTime() uint64 {
	return c.board.Time()
}

// ThreadPointer implements ring0.Machine.ThreadPointer.
func (c *Core) ThreadPointer() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tp
}

// SetThreadPointer implements ring0.Machine.SetThreadPointer.
func (c *Core) SetThreadPointer(tp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tp = tp
}

// InvalidateTLB implements ring0.Machine.InvalidateTLB. Translation always
// walks the current tables, so invalidations are only recorded.
func (c *Core) InvalidateTLB(op uint8, addr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, Flush{Op: op, Addr: addr})
}

// Flushes returns the TLB invalidations executed so far.
func (c *Core) Flushes() []Flush {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Flush(nil), c.flushes...)
}

// SetTrapHandler implements ring0.Machine.SetTrapHandler.
func (c *Core) SetTrapHandler(h ring0.TrapHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// TrapStack returns the kernel stack top used by the last trap from user
// mode.
func (c *Core) TrapStack() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trapStack
}

// Halt implements ring0.Machine.Halt.
func (c *Core) Halt() {
	c.halt("halted")
}

// halt stops the core and ends the calling goroutine.
func (c *Core) halt(reason string) {
	c.stop(reason)
	runtime.Goexit()
}

func (c *Core) stop(reason string) {
	c.stopOnce.Do(func() {
		log.Infof("Core %d: %s", c.id, reason)
		c.reason = reason
		close(c.stopped)
	})
}

// Stop stops the core from outside. Goroutines parked on the core exit.
func (c *Core) Stop() {
	c.stop("stopped")
}

// Stopped returns a channel closed when the core stops.
func (c *Core) Stopped() <-chan struct{} {
	return c.stopped
}

// Halted returns whether the core has stopped, and why.
func (c *Core) Halted() (bool, string) {
	select {
	case <-c.stopped:
		return true, c.reason
	default:
		return false, ""
	}
}

// Start runs fn as the core's first thread.
func (c *Core) Start(fn func()) {
	go func() {
		defer c.recoverPanic()
		fn()
		c.stop("boot thread returned")
	}()
}

// Wait blocks until the core stops and returns the reason.
func (c *Core) Wait() string {
	<-c.stopped
	return c.reason
}

// Run starts fn and waits for the core to stop.
func (c *Core) Run(fn func()) string {
	c.Start(fn)
	return c.Wait()
}

// recoverPanic turns a panic on one of the core's goroutines into a stop.
func (c *Core) recoverPanic() {
	if r := recover(); r != nil {
		c.stop(fmt.Sprintf("panic: %v", r))
	}
}

// park blocks the calling goroutine on ch. It exits the goroutine if the
// core stops first.
func (c *Core) park(ch chan struct{}) {
	select {
	case <-ch:
	case <-c.stopped:
		runtime.Goexit()
	}
}
