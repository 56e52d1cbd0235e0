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

// Package irq routes interrupt causes to registered handlers.
//
// Registration, removal and dispatch are lock-free: every slot is an atomic
// pointer, so a handler may be installed on one core while another core is
// dispatching.
package irq

import (
	"sync/atomic"
)

// Handler is an interrupt handler. It takes no arguments and returns
// nothing; it runs with interrupts disabled on the interrupted core.
type Handler func()

// Table is a fixed-size, lock-free table of handlers indexed by cause.
//
// The zero value is a table with no slots; use NewTable.
type Table struct {
	slots []atomic.Pointer[Handler]
}

// NewTable returns a table with n empty slots.
func NewTable(n int) *Table {
	return &Table{slots: make([]atomic.Pointer[Handler], n)}
}

// Len returns the number of slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Register installs h at idx. It returns false if idx is out of range, h is
// nil, or a handler is already installed; the table is unchanged in that
// case.
func (t *Table) Register(idx int, h Handler) bool {
	if idx < 0 || idx >= len(t.slots) || h == nil {
		return false
	}
	return t.slots[idx].CompareAndSwap(nil, &h)
}

// Unregister removes and returns the handler at idx.
func (t *Table) Unregister(idx int) (Handler, bool) {
	if idx < 0 || idx >= len(t.slots) {
		return nil, false
	}
	if p := t.slots[idx].Swap(nil); p != nil {
		return *p, true
	}
	return nil, false
}

// Handle invokes the handler at idx, if any, and reports whether one ran.
func (t *Table) Handle(idx int) bool {
	if idx < 0 || idx >= len(t.slots) {
		return false
	}
	p := t.slots[idx].Load()
	if p == nil {
		return false
	}
	(*p)()
	return true
}

// Installed returns true if a handler is installed at idx.
func (t *Table) Installed(idx int) bool {
	if idx < 0 || idx >= len(t.slots) {
		return false
	}
	return t.slots[idx].Load() != nil
}
