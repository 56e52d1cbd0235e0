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
	"sync"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/ring0"
)

// CPU is the kernel state of one core.
//
// Everything but the run queue is only touched by the core itself. The run
// queue lock is never waited for in interrupt context: the interrupted code
// on the same core may be holding it.
type CPU struct {
	ring0.CPU

	k *Kernel

	// idle is the context of the core's boot thread. It runs whenever no
	// task does.
	idle arch.TaskContext

	// current is the running task, nil when idle.
	current *Task

	mu   sync.Mutex
	runq []*Task
}

// Current returns the task running on the core.
func (c *CPU) Current() *Task {
	return c.current
}

// enqueue appends t to the run queue.
func (c *CPU) enqueue(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runq = append(c.runq, t)
}

// dequeue pops the head of the run queue.
func (c *CPU) dequeue() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.runq) == 0 {
		return nil
	}
	t := c.runq[0]
	c.runq[0] = nil
	c.runq = c.runq[1:]
	return t
}

// Runnable returns the number of queued tasks.
func (c *CPU) Runnable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runq)
}

// switchTo switches from cur to next. A nil task stands for the idle
// context.
func (c *CPU) switchTo(cur, next *Task) {
	from, to := &c.idle, &c.idle
	if cur != nil {
		from = &cur.ctx
	}
	if next != nil {
		to = &next.ctx
		c.SetEntryStack(next.kstackTop)
	}
	c.current = next
	c.SwitchTo(from, to)
}

// yield puts the current task at the back of the queue and runs the next
// one. It returns immediately if nothing else is runnable.
func (c *CPU) yield() {
	cur := c.current
	if cur == nil {
		return
	}
	next := c.dequeue()
	if next == nil {
		return
	}
	c.enqueue(cur)
	c.switchTo(cur, next)
}

// RunUntilIdle runs queued tasks until the queue is empty.
//
// Preconditions: called from the idle context.
func (c *CPU) RunUntilIdle() {
	for {
		next := c.dequeue()
		if next == nil {
			return
		}
		c.switchTo(nil, next)
	}
}

// Idle runs queued tasks forever, waiting for an interrupt whenever the
// queue is empty. It does not return.
//
// Preconditions: called from the idle context.
func (c *CPU) Idle() {
	for {
		c.RunUntilIdle()
		c.EnableInterrupts()
		c.WaitForInterrupt()
		c.DisableInterrupts()
	}
}

// armTimer arms the timer for the end of the current time slice.
func (c *CPU) armTimer() {
	c.SetOneshotTimer(c.Now() + uint64(c.k.opts.TimeSlice.Nanoseconds()))
}

// tick runs at each timer interrupt.
func (c *CPU) tick() {
	if c.k.opts.TimeSlice <= 0 {
		return
	}
	c.armTimer()
	c.preempt()
}

// preempt is yield for interrupt context. The queue is rotated only if its
// lock is free; otherwise this tick is skipped and the next one retries.
func (c *CPU) preempt() {
	cur := c.current
	if cur == nil || !c.mu.TryLock() {
		return
	}
	if len(c.runq) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.runq[0]
	c.runq[0] = nil
	c.runq = append(c.runq[1:], cur)
	c.mu.Unlock()
	c.switchTo(cur, next)
}
