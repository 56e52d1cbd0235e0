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
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestTableRegister(t *testing.T) {
	tbl := NewTable(8)
	var first, second int
	if !tbl.Register(3, func() { first++ }) {
		t.Fatalf("first Register failed")
	}
	if tbl.Register(3, func() { second++ }) {
		t.Fatalf("second Register on an occupied slot succeeded")
	}
	if !tbl.Handle(3) {
		t.Fatalf("Handle(3) = false")
	}
	if first != 1 || second != 0 {
		t.Errorf("invocations: first=%d second=%d, want 1/0", first, second)
	}
}

func TestTableBounds(t *testing.T) {
	tbl := NewTable(4)
	for _, idx := range []int{-1, 4, 100} {
		if tbl.Register(idx, func() {}) {
			t.Errorf("Register(%d) succeeded", idx)
		}
		if _, ok := tbl.Unregister(idx); ok {
			t.Errorf("Unregister(%d) succeeded", idx)
		}
		if tbl.Handle(idx) {
			t.Errorf("Handle(%d) succeeded", idx)
		}
	}
	if tbl.Register(0, nil) {
		t.Errorf("Register of a nil handler succeeded")
	}
}

func TestTableUnregister(t *testing.T) {
	tbl := NewTable(4)
	ran := false
	tbl.Register(1, func() { ran = true })

	h, ok := tbl.Unregister(1)
	if !ok || h == nil {
		t.Fatalf("Unregister(1) = (%v, %t)", h, ok)
	}
	if _, ok := tbl.Unregister(1); ok {
		t.Errorf("second Unregister(1) returned a handler")
	}
	if tbl.Handle(1) {
		t.Errorf("Handle after Unregister reported handled")
	}
	h()
	if !ran {
		t.Errorf("returned handler is not the registered one")
	}
	if !tbl.Register(1, func() {}) {
		t.Errorf("Register after Unregister failed")
	}
}

func TestTableConcurrentRegister(t *testing.T) {
	tbl := NewTable(MaxIRQCount)
	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			if tbl.Register(42, func() {}) {
				wins.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("%d concurrent registrations succeeded, want 1", got)
	}
}

func TestTableConcurrentDispatch(t *testing.T) {
	tbl := NewTable(MaxIRQCount)
	var calls atomic.Int64
	tbl.Register(7, func() { calls.Add(1) })

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				tbl.Handle(7)
			}
			return nil
		})
	}
	g.Go(func() error {
		for j := 0; j < 1000; j++ {
			tbl.Installed(7)
		}
		return nil
	})
	g.Wait()
	if got := calls.Load(); got != 4000 {
		t.Errorf("handler ran %d times, want 4000", got)
	}
}

type fakeChip struct {
	log   []string
	lines map[int]bool
}

func (c *fakeChip) ClearTimerInterrupt() {
	c.log = append(c.log, "ack")
}

func (c *fakeChip) SetLineEnabled(line int, enabled bool) {
	if c.lines == nil {
		c.lines = make(map[int]bool)
	}
	c.lines[line] = enabled
}

func TestControllerTimer(t *testing.T) {
	c := NewController()
	chip := &fakeChip{}
	if !c.Register(TimerIRQ, func() { chip.log = append(chip.log, "tick") }) {
		t.Fatalf("Register(timer) failed")
	}
	if c.Register(TimerIRQ, func() {}) {
		t.Errorf("second Register(timer) succeeded")
	}
	if !c.Dispatch(chip, TimerIRQ) {
		t.Fatalf("Dispatch(timer) = false")
	}
	if len(chip.log) != 2 || chip.log[0] != "ack" || chip.log[1] != "tick" {
		t.Errorf("timer dispatch order = %v, want [ack tick]", chip.log)
	}
}

func TestControllerUnhandled(t *testing.T) {
	c := NewController()
	chip := &fakeChip{}
	if c.Dispatch(chip, ExtIRQ) {
		t.Errorf("Dispatch with nothing registered reported handled")
	}
	if c.Dispatch(chip, TimerIRQ) {
		t.Errorf("timer Dispatch with nothing registered reported handled")
	}
	if len(chip.log) != 1 {
		t.Errorf("timer not acknowledged without a handler: %v", chip.log)
	}
	if got := c.Unhandled(); got != 2 {
		t.Errorf("Unhandled() = %d, want 2", got)
	}
}

func TestControllerGeneralCauses(t *testing.T) {
	c := NewController()
	chip := &fakeChip{}
	got := 0
	if !c.Register(ExtIRQ, func() { got = ExtIRQ }) {
		t.Fatalf("Register(ext) failed")
	}
	if !c.Register(40, func() { got = 40 }) {
		t.Fatalf("Register(40) failed")
	}
	if c.Register(MaxIRQCount, func() {}) {
		t.Errorf("Register beyond the table succeeded")
	}
	c.Dispatch(chip, 40)
	if got != 40 {
		t.Errorf("Dispatch(40) ran handler for %d", got)
	}
	c.Dispatch(chip, ExtIRQ)
	if got != ExtIRQ {
		t.Errorf("Dispatch(ext) ran handler for %d", got)
	}
	if len(chip.log) != 0 {
		t.Errorf("non-timer dispatch touched the timer: %v", chip.log)
	}
	if _, ok := c.Unregister(ExtIRQ); !ok || c.Installed(ExtIRQ) {
		t.Errorf("Unregister(ext) did not remove the handler")
	}
}

func TestControllerSetEnabled(t *testing.T) {
	c := NewController()
	chip := &fakeChip{}
	c.SetEnabled(chip, TimerIRQ, true)
	c.SetEnabled(chip, 100, true)
	if !chip.lines[TimerIRQ] {
		t.Errorf("timer line not enabled")
	}
	if _, ok := chip.lines[100]; ok {
		t.Errorf("non-line cause reached the chip")
	}
	c.SetEnabled(chip, TimerIRQ, false)
	if chip.lines[TimerIRQ] {
		t.Errorf("timer line not disabled")
	}
}
