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
	"testing"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/platform/emulated"
	"thcore.dev/thcore/pkg/ring0"
)

// newTask prepares a fresh task running fn.
func newTask(tc *testCPU, fn func(), tls uintptr, pgdl uint64) *arch.TaskContext {
	entry, arg := tc.core.KernelEntry(fn)
	ctx := &arch.TaskContext{}
	ctx.Init(uintptr(entry), kstackTop, tls)
	ctx.SetEntryArg(arg)
	ctx.PGDL = pgdl
	return ctx
}

func TestSwitchTo(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true, TLS: true})
	var (
		boot  = &arch.TaskContext{PGDL: 0x1000}
		order []string
		tps   []uint64
		a, b  *arch.TaskContext
	)
	a = newTask(tc, func() {
		order = append(order, "a")
		tps = append(tps, tc.core.ThreadPointer())
		tc.SwitchTo(a, b)
		order = append(order, "a again")
		tc.SwitchTo(a, boot)
	}, 0xa0, 0x2000)
	b = newTask(tc, func() {
		order = append(order, "b")
		tps = append(tps, tc.core.ThreadPointer())
		tc.SwitchTo(b, a)
	}, 0xb0, 0x2000)

	tc.core.Run(func() {
		tc.core.SetThreadPointer(0xf0)
		tc.core.WriteCSR(arch.CSR_PGDL, boot.PGDL)
		tc.SwitchTo(boot, a)
		order = append(order, "boot")
		tps = append(tps, tc.core.ThreadPointer())
	})

	if diff := cmp.Diff([]string{"a", "b", "a again", "boot"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{0xa0, 0xb0, 0xf0}, tps); diff != "" {
		t.Errorf("thread pointers mismatch (-want +got):\n%s", diff)
	}
	if boot.TP != 0xf0 {
		t.Errorf("saved boot TP = %#x, want 0xf0", boot.TP)
	}
	// Only boot->a and a->boot change the root; a and b share one.
	want := []emulated.Flush{{Op: ring0.InvalidateAll}, {Op: ring0.InvalidateAll}}
	if diff := cmp.Diff(want, tc.core.Flushes()); diff != "" {
		t.Errorf("flushes mismatch (-want +got):\n%s", diff)
	}
	if got := tc.core.ReadCSR(arch.CSR_PGDL); got != boot.PGDL {
		t.Errorf("PGDL = %#x, want %#x", got, boot.PGDL)
	}
}

func TestSwitchToKernelOnly(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{})
	boot := &arch.TaskContext{PGDL: 0x1000}
	var next *arch.TaskContext
	next = newTask(tc, func() { tc.SwitchTo(next, boot) }, 0xa0, 0x2000)
	tc.core.Run(func() {
		tc.core.SetThreadPointer(0xf0)
		tc.SwitchTo(boot, next)
	})
	if got := tc.core.ThreadPointer(); got != 0xf0 {
		t.Errorf("thread pointer = %#x, want it left alone", got)
	}
	if got := tc.core.Flushes(); len(got) != 0 {
		t.Errorf("flushes = %v, want none", got)
	}
	if got := tc.core.ReadCSR(arch.CSR_PGDL); got != 0 {
		t.Errorf("PGDL = %#x, want it left alone", got)
	}
}

func TestEnterUser(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
	tc.withUserSpace(t)
	var (
		prmd, crmd, era, ksp uint64
		a0                   uint64
	)
	tc.board.RegisterProgram(userText, func(u *emulated.UserThread) {
		prmd = tc.core.ReadCSR(arch.CSR_PRMD)
		crmd = tc.core.ReadCSR(arch.CSR_CRMD)
		era = tc.core.ReadCSR(arch.CSR_ERA)
		ksp = tc.core.ReadCSR(arch.CSR_KSAVE_KSP)
		a0 = u.Registers().Regs[arch.RegA0]
		u.Break()
	})
	tc.core.Run(func() {
		tc.EnableInterrupts()
		tc.enterUser()
	})
	if prmd&arch.PRMD_PPLV_MASK != arch.PRMD_PPLV_USER || prmd&arch.PRMD_PIE == 0 {
		t.Errorf("PRMD = %#x, want user mode with interrupts on", prmd)
	}
	if crmd&arch.CRMD_PLV_MASK != 3 || crmd&arch.CRMD_IE == 0 {
		t.Errorf("CRMD in user mode = %#x", crmd)
	}
	if era != userText {
		t.Errorf("ERA = %#x, want %#x", era, userText)
	}
	if ksp != kstackTop || tc.Kernel().EntryStack(tc.ID()) != kstackTop {
		t.Errorf("entry stack = %#x/%#x, want %#x", ksp, tc.Kernel().EntryStack(tc.ID()), uint64(kstackTop))
	}
	if tc.core.TrapStack() != kstackTop {
		t.Errorf("trap taken on %#x, want %#x", tc.core.TrapStack(), uint64(kstackTop))
	}
	if a0 != 7 {
		t.Errorf("a0 = %d, want 7", a0)
	}
}

func TestEnterUserDoesNotReturn(t *testing.T) {
	tc := newTestCPU(t, ring0.KernelOpts{UserSpace: true})
	tc.withUserSpace(t)
	tc.board.RegisterProgram(userText, func(u *emulated.UserThread) {})
	returned := false
	tc.core.Run(func() {
		tc.enterUser()
		returned = true
	})
	if returned {
		t.Errorf("EnterUser returned")
	}
}
