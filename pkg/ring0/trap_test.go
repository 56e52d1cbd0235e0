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

package ring0_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/irq"
	"thcore.dev/thcore/pkg/mm"
	"thcore.dev/thcore/pkg/platform/emulated"
	"thcore.dev/thcore/pkg/ring0"
)

const (
	userText   = 0x10000
	userData   = 0x20000
	userStack  = 0x7f000
	kstackTop  = 0x9000_0000_0200_0000
	testFreqHz = 100_000_000
)

type fault struct {
	Addr     hostarch.Addr
	Access   hostarch.MappingFlags
	FromUser bool
}

// testHooks records what the dispatcher calls into.
type testHooks struct {
	as       *mm.AddressSpace
	irqs     *irq.Controller
	syscalls []uintptr
	args     []uintptr
	faults   []fault
	irqsSeen []int
}

func (h *testHooks) Syscall(c *ring0.CPU, frame *arch.Registers, sysno uintptr) uintptr {
	h.syscalls = append(h.syscalls, sysno)
	h.args = append(h.args, frame.Arg0(), frame.Arg1())
	return sysno * 2
}

func (h *testHooks) PageFault(c *ring0.CPU, addr hostarch.Addr, access hostarch.MappingFlags, fromUser bool) bool {
	h.faults = append(h.faults, fault{addr, access, fromUser})
	return h.as != nil && h.as.HandlePageFault(addr, access)
}

func (h *testHooks) Interrupt(c *ring0.CPU, irq int) bool {
	h.irqsSeen = append(h.irqsSeen, irq)
	return h.irqs.Dispatch(c, irq)
}

type testCPU struct {
	ring0.CPU
	core  *emulated.Core
	board *emulated.Board
	hooks *testHooks
}

func newTestCPU(t *testing.T, opts ring0.KernelOpts) *testCPU {
	t.Helper()
	b := emulated.NewBoard(1)
	t.Cleanup(b.Stop)
	k := &ring0.Kernel{}
	k.Init(opts)
	tc := &testCPU{
		core:  b.Core(0),
		board: b,
		hooks: &testHooks{irqs: irq.NewController()},
	}
	tc.Init(k, tc.core, tc.hooks)
	return tc
}

// withUserSpace maps text at userText and data at userData, and installs
// the space as the user page table.
func (tc *testCPU) withUserSpace(t *testing.T) *mm.AddressSpace {
	t.Helper()
	as := mm.New(mm.NewFrames(0x100_0000, 64*hostarch.PageSize))
	t.Cleanup(as.Release)
	if err := as.Map(hostarch.AddrRange{Start: userText, End: userText + hostarch.PageSize}, hostarch.ReadExecute|hostarch.User); err != nil {
		t.Fatalf("Map text failed: %v", err)
	}
	if err := as.Map(hostarch.AddrRange{Start: userData, End: userData + hostarch.PageSize}, hostarch.ReadWrite|hostarch.User); err != nil {
		t.Fatalf("Map data failed: %v", err)
	}
	tc.hooks.as = as
	tc.board.Attach(as)
	tc.core.WriteCSR(arch.CSR_PGDL, uint64(as.Root()))
	return as
}

func (tc *testCPU) enterUser() {
	uc := arch.NewUserContext(userText, userStack, 7)
	tc.EnterUser(&uc, kstackTop)
}

func TestSyscall(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
	tc.withUserSpace(t)
	var (
		ret  uintptr
		regs arch.Registers
	)
	tc.board.RegisterProgram(userText, func(u *emulated.UserThread) {
		ret = u.Syscall(21, 3, 4)
		regs = *u.Registers()
	})
	reason := tc.core.Run(tc.enterUser)
	if !strings.Contains(reason, "returned") {
		t.Errorf("Run = %q, want the program to return", reason)
	}
	if ret != 42 {
		t.Errorf("syscall returned %d, want 42", ret)
	}
	if diff := cmp.Diff([]uintptr{21}, tc.hooks.syscalls); diff != "" {
		t.Errorf("syscalls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uintptr{3, 4}, tc.hooks.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	// Text is populated by the fetch fault taken on entry.
	if regs.Era != userText+arch.TrapInstructionWidth {
		t.Errorf("Era = %#x, want %#x", regs.Era, userText+arch.TrapInstructionWidth)
	}
	if regs.Stack() != userStack {
		t.Errorf("sp = %#x, want %#x", regs.Stack(), userStack)
	}
}

func TestSyscallWithoutUserSpace(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{})
	tc.withUserSpace(t)
	tc.board.RegisterProgram(userText, func(u *emulated.UserThread) { u.Syscall(1) })
	if reason := tc.core.Run(tc.enterUser); reason != "halted" {
		t.Errorf("Run = %q, want halted", reason)
	}
	if len(tc.hooks.syscalls) != 0 {
		t.Errorf("syscall hook called: %v", tc.hooks.syscalls)
	}
}

func TestUserPageFault(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
	tc.withUserSpace(t)
	var got uint64
	tc.board.RegisterProgram(userText, func(u *emulated.UserThread) {
		u.Store64(userData+0x10, 0x1122)
		got = u.Load64(userData + 0x10)
	})
	tc.core.Run(tc.enterUser)
	if got != 0x1122 {
		t.Errorf("Load64 = %#x, want 0x1122", got)
	}
	want := []fault{
		{userText, hostarch.Execute | hostarch.User, true},
		{userData + 0x10, hostarch.Write | hostarch.User, true},
	}
	if diff := cmp.Diff(want, tc.hooks.faults); diff != "" {
		t.Errorf("faults mismatch (-want +got):\n%s", diff)
	}
}

func TestUserPageFaultUnresolved(t *testing.T) {
	for _, tc := range []struct {
		name string
		prog emulated.Program
		want fault
	}{
		{"unmapped", func(u *emulated.UserThread) { u.Load64(0x50000) }, fault{0x50000, hostarch.Read | hostarch.User, true}},
		{"read only", func(u *emulated.UserThread) { u.Store64(userText, 0) }, fault{userText, hostarch.Write | hostarch.User, true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
			c.withUserSpace(t)
			c.board.RegisterProgram(userText, tc.prog)
			if reason := c.core.Run(c.enterUser); reason != "halted" {
				t.Errorf("Run = %q, want halted", reason)
			}
			faults := c.hooks.faults
			if len(faults) == 0 || faults[len(faults)-1] != tc.want {
				t.Errorf("faults = %v, want last %v", faults, tc.want)
			}
		})
	}
}

func TestKernelPageFault(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
	reason := tc.core.Run(func() {
		tc.core.RaiseException(arch.EcodePIL, 0x9000_0000_dead_0000)
	})
	if reason != "halted" {
		t.Errorf("Run = %q, want halted", reason)
	}
	want := []fault{{0x9000_0000_dead_0000, hostarch.Read, false}}
	if diff := cmp.Diff(want, tc.hooks.faults); diff != "" {
		t.Errorf("faults mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakpoint(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{})
	var frame arch.Registers
	tc.core.Run(func() { frame = tc.core.RaiseException(arch.EcodeBRK, 0) })
	if frame.Era != emulated.KernelTextBase+arch.TrapInstructionWidth {
		t.Errorf("Era = %#x, want the break skipped", frame.Era)
	}
}

func TestUnknownTrapHalts(t *testing.T) {
	for _, code := range []arch.Ecode{arch.EcodeINE, arch.EcodePPI, arch.EcodeADE} {
		t.Run(code.String(), func(t *testing.T) {
			tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
			returned := false
			reason := tc.core.Run(func() {
				tc.core.RaiseException(code, 0)
				returned = true
			})
			if reason != "halted" || returned {
				t.Errorf("Run = %q, returned = %t; want a halt", reason, returned)
			}
		})
	}
}

func TestTimerInterrupt(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{TimerFrequency: testFreqHz})
	fired := 0
	if !tc.hooks.irqs.Register(irq.TimerIRQ, func() { fired++ }) {
		t.Fatalf("Register timer failed")
	}
	var now uint64
	tc.core.Run(func() {
		tc.InitTimer()
		tc.SetOneshotTimer(tc.Now() + 1000)
		tc.EnableInterrupts()
		tc.WaitForInterrupt()
		now = tc.Now()
	})
	if fired != 1 {
		t.Errorf("timer handler ran %d times, want 1", fired)
	}
	if now != 1000 {
		t.Errorf("Now = %d, want 1000", now)
	}
	if diff := cmp.Diff([]int{irq.TimerIRQ}, tc.hooks.irqsSeen); diff != "" {
		t.Errorf("interrupts mismatch (-want +got):\n%s", diff)
	}
	if tc.core.ReadCSR(arch.CSR_ESTAT)&(1<<arch.IRQ_TI) != 0 {
		t.Errorf("timer interrupt not acknowledged")
	}
}

func TestExternalInterrupt(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{})
	ext := 0
	tc.hooks.irqs.Register(irq.ExtIRQ, func() { ext++ })
	tc.core.RaiseInterrupt(irq.ExtIRQ)
	tc.core.RaiseInterrupt(arch.IRQ_SWI1)
	tc.core.Run(func() {
		tc.hooks.irqs.SetEnabled(&tc.CPU, irq.ExtIRQ, true)
		tc.hooks.irqs.SetEnabled(&tc.CPU, arch.IRQ_SWI1, true)
		tc.EnableInterrupts()
	})
	if ext != 1 {
		t.Errorf("external handler ran %d times, want 1", ext)
	}
	// SWI1 has no handler and is counted.
	if diff := cmp.Diff([]int{arch.IRQ_SWI1, irq.ExtIRQ}, tc.hooks.irqsSeen); diff != "" {
		t.Errorf("interrupts mismatch (-want +got):\n%s", diff)
	}
	if got := tc.hooks.irqs.Unhandled(); got != 1 {
		t.Errorf("Unhandled = %d, want 1", got)
	}
}

func TestSpuriousInterrupt(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{})
	reason := tc.core.Run(func() { tc.core.RaiseException(arch.EcodeINT, 0) })
	if reason != "boot thread returned" {
		t.Errorf("Run = %q, want a normal return", reason)
	}
	if len(tc.hooks.irqsSeen) != 0 {
		t.Errorf("spurious interrupt dispatched: %v", tc.hooks.irqsSeen)
	}
}

func TestSetOneshotTimer(t *testing.T) {
	for _, tc := range []struct {
		name     string
		deadline uint64
		want     uint64
	}{
		{"aligned", 1000, 100 | arch.TCFG_EN},
		{"rounded up", 1010, 104 | arch.TCFG_EN},
		{"past", 0, arch.TCFG_EN},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCPU(t, ring0.KernelOpts{TimerFrequency: testFreqHz})
			c.SetOneshotTimer(tc.deadline)
			if got := c.core.ReadCSR(arch.CSR_TCFG); got != tc.want {
				t.Errorf("TCFG = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestTickConversion(t *testing.T) {
	var k ring0.Kernel
	k.Init(ring0.KernelOpts{TimerFrequency: testFreqHz})
	if got := k.TicksToNanos(5); got != 50 {
		t.Errorf("TicksToNanos(5) = %d, want 50", got)
	}
	if got := k.NanosToTicks(55); got != 5 {
		t.Errorf("NanosToTicks(55) = %d, want 5", got)
	}
}
