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

package arch

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/hostarch"
)

func TestFrameLayout(t *testing.T) {
	var r Registers
	for _, tc := range []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"Regs", unsafe.Offsetof(r.Regs), FrameRegs},
		{"Prmd", unsafe.Offsetof(r.Prmd), FramePrmd},
		{"Era", unsafe.Offsetof(r.Era), FrameEra},
		{"Badv", unsafe.Offsetof(r.Badv), FrameBadv},
		{"Crmd", unsafe.Offsetof(r.Crmd), FrameCrmd},
		{"size", unsafe.Sizeof(r), FrameSize},
	} {
		if tc.got != tc.want {
			t.Errorf("Registers.%s at %#x, want %#x", tc.name, tc.got, tc.want)
		}
	}
}

func TestTaskLayout(t *testing.T) {
	var tc TaskContext
	for _, c := range []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"RA", unsafe.Offsetof(tc.RA), TaskRA},
		{"SP", unsafe.Offsetof(tc.SP), TaskSP},
		{"S", unsafe.Offsetof(tc.S), TaskS},
		{"TP", unsafe.Offsetof(tc.TP), TaskTP},
		{"PGDL", unsafe.Offsetof(tc.PGDL), TaskPGDL},
		{"size", unsafe.Sizeof(tc), TaskSize},
	} {
		if c.got != c.want {
			t.Errorf("TaskContext.%s at %#x, want %#x", c.name, c.got, c.want)
		}
	}
}

func TestSyscallView(t *testing.T) {
	var r Registers
	for i := 0; i < 6; i++ {
		r.Regs[RegA0+i] = uint64(100 + i)
	}
	r.Regs[RegA7] = 64
	r.Era = 0x1000

	if got := r.SyscallNo(); got != 64 {
		t.Errorf("SyscallNo() = %d, want 64", got)
	}
	args := r.SyscallArgs()
	for i, a := range args {
		if a.Value != uintptr(100+i) || r.Arg(i) != uintptr(100+i) {
			t.Errorf("argument %d = %d/%d, want %d", i, a.Value, r.Arg(i), 100+i)
		}
	}
	if r.Arg0() != 100 || r.Arg5() != 105 {
		t.Errorf("Arg0/Arg5 = %d/%d", r.Arg0(), r.Arg5())
	}

	r.SetReturn(7)
	if r.Regs[RegA0] != 7 || r.Return() != 7 {
		t.Errorf("SetReturn did not write a0: %d", r.Regs[RegA0])
	}
	r.AdvancePC()
	if r.Era != 0x1004 {
		t.Errorf("AdvancePC: era = %#x, want 0x1004", r.Era)
	}
}

func TestSyscallArgumentConversions(t *testing.T) {
	a := SyscallArgument{Value: ^uintptr(0)}
	if a.Int() != -1 || a.Int64() != -1 || a.Uint() != 0xffffffff {
		t.Errorf("conversions of %#x: Int=%d Int64=%d Uint=%#x", a.Value, a.Int(), a.Int64(), a.Uint())
	}
	if a.Pointer() != ^hostarch.Addr(0) {
		t.Errorf("Pointer() = %v", a.Pointer())
	}
}

func TestUserContextRoundTrip(t *testing.T) {
	uc := NewUserContext(0x1000, 0x3fff_f000, 2333)
	if uc.IP() != 0x1000 || uc.Stack() != 0x3fff_f000 || uc.Arg0() != 2333 {
		t.Errorf("NewUserContext: ip=%#x sp=%#x a0=%d", uc.IP(), uc.Stack(), uc.Arg0())
	}
	regs := uc.Registers()
	if regs.Prmd&PRMD_PPLV_MASK != PRMD_PPLV_USER || regs.Prmd&PRMD_PIE == 0 {
		t.Errorf("prmd = %#x, want user mode with interrupts enabled", regs.Prmd)
	}
	if !regs.FromUser() {
		t.Errorf("FromUser() = false for a user context")
	}

	uc.SetIP(0x2000)
	uc.SetStack(0x3000)
	uc.SetReturn(5)
	if uc.IP() != 0x2000 || uc.Stack() != 0x3000 || uc.Return() != 5 {
		t.Errorf("setters: ip=%#x sp=%#x ret=%d", uc.IP(), uc.Stack(), uc.Return())
	}

	copied := UserContextFrom(regs)
	if diff := cmp.Diff(*regs, *copied.Registers()); diff != "" {
		t.Errorf("UserContextFrom mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskContextInit(t *testing.T) {
	tc := TaskContext{S: [10]uint64{1, 2, 3}, PGDL: 9}
	tc.Init(0x9000_0000_0020_0000, 0x9000_0000_0030_0000, 0x42)
	want := TaskContext{RA: 0x9000_0000_0020_0000, SP: 0x9000_0000_0030_0000, TP: 0x42}
	if diff := cmp.Diff(want, tc); diff != "" {
		t.Errorf("Init mismatch (-want +got):\n%s", diff)
	}
	tc.SetPageTableRoot(0x8000)
	if tc.PageTableRoot() != 0x8000 {
		t.Errorf("PageTableRoot() = %#x", tc.PageTableRoot())
	}
}

func TestEstat(t *testing.T) {
	e := MakeEstat(EcodeADE, 1, 1<<IRQ_TI)
	if e.Ecode() != EcodeADE || e.EsubCode() != 1 || e.IS() != 1<<IRQ_TI {
		t.Errorf("decode(%#x) = %v/%d/%#x", uint64(e), e.Ecode(), e.EsubCode(), e.IS())
	}
	if got := EcodeSYS.String(); got != "Syscall" {
		t.Errorf("EcodeSYS.String() = %q", got)
	}
	if got := Ecode(0x3f).String(); got != "Ecode(0x3f)" {
		t.Errorf("unknown ecode String() = %q", got)
	}
}

func TestEmitOffsets(t *testing.T) {
	var b bytes.Buffer
	EmitOffsets(&b)
	out := b.String()
	for _, want := range []string{
		"#define FRAME_R4       0x20\n",
		"#define FRAME_PRMD     0x100\n",
		"#define FRAME_ERA      0x108\n",
		"#define FRAME_SIZE     0x120\n",
		"#define TASK_S9        0x58\n",
		"#define TASK_PGDL      0x68\n",
		"#define CSR_KSAVE_KSP  0x30\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("EmitOffsets output missing %q", want)
		}
	}
}

func TestDump(t *testing.T) {
	var r Registers
	r.Regs[RegSP] = 0xdead
	r.Era = 0x1234
	s := r.String()
	if !strings.Contains(s, "sp=0x000000000000dead") || !strings.Contains(s, "era=0x1234") {
		t.Errorf("unexpected dump:\n%s", s)
	}
}
