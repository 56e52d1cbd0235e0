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

	"thcore.dev/thcore/pkg/arch"
)

// KernelEntry implements ring0.Machine.KernelEntry. Each fn gets its own
// argument, which selects it when a fresh context is first switched to.
func (c *Core) KernelEntry(fn func()) (entry, arg uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextArg++
	c.entries[c.nextArg] = fn
	return KernelTextBase, c.nextArg
}

// Switches returns the number of context switches executed.
func (c *Core) Switches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches
}

// batonLocked returns the channel of ctx, creating it if needed.
//
// Preconditions: c.mu is locked.
func (c *Core) batonLocked(ctx *arch.TaskContext) (ch chan struct{}, existed bool) {
	if ch, ok := c.batons[ctx]; ok {
		return ch, true
	}
	ch = make(chan struct{}, 1)
	c.batons[ctx] = ch
	return ch, false
}

// ContextSwitch implements ring0.Machine.ContextSwitch.
//
// The calling goroutine parks until cur is switched back to. A context seen
// for the first time starts a goroutine running the function registered by
// KernelEntry for its RA and s0.
func (c *Core) ContextSwitch(cur, next *arch.TaskContext) {
	c.mu.Lock()
	c.switches++
	curCh, _ := c.batonLocked(cur)
	nextCh, started := c.batonLocked(next)
	var fn func()
	if !started {
		var ok bool
		fn, ok = c.entries[next.S[0]]
		if !ok || next.RA != KernelTextBase {
			c.mu.Unlock()
			c.halt(fmt.Sprintf("switch to context with no entry (ra=%#x s0=%#x)", next.RA, next.S[0]))
		}
	}
	c.mu.Unlock()

	if !started {
		go c.runTask(nextCh, fn)
	}
	nextCh <- struct{}{}
	c.park(curCh)
}

// runTask runs a fresh task once it holds the core.
func (c *Core) runTask(baton chan struct{}, fn func()) {
	defer c.recoverPanic()
	c.park(baton)
	fn()
	c.halt("kernel task returned")
}
