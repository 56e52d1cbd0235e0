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
	"fmt"
	"io"
	"strings"
)

// General purpose register indices, following the LP64 calling convention.
const (
	RegZero = 0
	RegRA   = 1
	RegTP   = 2
	RegSP   = 3
	RegA0   = 4
	RegA1   = 5
	RegA2   = 6
	RegA3   = 7
	RegA4   = 8
	RegA5   = 9
	RegA6   = 10
	RegA7   = 11
	RegT0   = 12
	RegT1   = 13
	RegT2   = 14
	RegT8   = 20
	RegU0   = 21
	RegFP   = 22
	RegS0   = 23
	RegS8   = 31
)

// Frame layout. These are the byte offsets of each field of Registers; the
// trap entry assembly uses the same values through offsets_loong64.h.
const (
	FrameRegs = 0x00
	FramePrmd = 0x100
	FrameEra  = 0x108
	FrameBadv = 0x110
	FrameCrmd = 0x118
	FrameSize = 0x120
)

// TrapInstructionWidth is the size of the syscall and break instructions.
// Handlers that consume the trapping instruction advance ERA by this much.
const TrapInstructionWidth = 4

// Registers is the trap frame: the full general purpose register file and the
// exception state saved by the trap entry path. Field order and sizes are part
// of the contract with the assembly and must not change.
type Registers struct {
	// Regs are r0 through r31. Regs[0] is always zero on entry.
	Regs [32]uint64

	// Prmd is the pre-exception mode (previous privilege level and
	// interrupt enable).
	Prmd uint64

	// Era is the exception return address.
	Era uint64

	// Badv is the faulting virtual address, if any.
	Badv uint64

	// Crmd is the current mode at the time of the trap.
	Crmd uint64
}

// SyscallNo returns the syscall number, held in a7.
func (r *Registers) SyscallNo() uintptr {
	return uintptr(r.Regs[RegA7])
}

// Arg returns syscall argument i (0..5), held in a0..a5.
func (r *Registers) Arg(i int) uintptr {
	if i < 0 || i > 5 {
		panic(fmt.Sprintf("syscall argument index %d out of range", i))
	}
	return uintptr(r.Regs[RegA0+i])
}

// Arg0 returns the first syscall argument.
func (r *Registers) Arg0() uintptr { return uintptr(r.Regs[RegA0]) }

// Arg1 returns the second syscall argument.
func (r *Registers) Arg1() uintptr { return uintptr(r.Regs[RegA1]) }

// Arg2 returns the third syscall argument.
func (r *Registers) Arg2() uintptr { return uintptr(r.Regs[RegA2]) }

// Arg3 returns the fourth syscall argument.
func (r *Registers) Arg3() uintptr { return uintptr(r.Regs[RegA3]) }

// Arg4 returns the fifth syscall argument.
func (r *Registers) Arg4() uintptr { return uintptr(r.Regs[RegA4]) }

// Arg5 returns the sixth syscall argument.
func (r *Registers) Arg5() uintptr { return uintptr(r.Regs[RegA5]) }

// SyscallArgs provides syscall arguments according to the LP64 convention.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(r.Regs[RegA0])},
		SyscallArgument{Value: uintptr(r.Regs[RegA1])},
		SyscallArgument{Value: uintptr(r.Regs[RegA2])},
		SyscallArgument{Value: uintptr(r.Regs[RegA3])},
		SyscallArgument{Value: uintptr(r.Regs[RegA4])},
		SyscallArgument{Value: uintptr(r.Regs[RegA5])},
	}
}

// Return returns the current syscall return value.
func (r *Registers) Return() uintptr {
	return uintptr(r.Regs[RegA0])
}

// SetReturn sets the syscall return value. It overwrites a0.
func (r *Registers) SetReturn(value uintptr) {
	r.Regs[RegA0] = uint64(value)
}

// IP returns the exception return address.
func (r *Registers) IP() uintptr {
	return uintptr(r.Era)
}

// SetIP sets the exception return address.
func (r *Registers) SetIP(value uintptr) {
	r.Era = uint64(value)
}

// Stack returns the stack pointer.
func (r *Registers) Stack() uintptr {
	return uintptr(r.Regs[RegSP])
}

// SetStack sets the stack pointer.
func (r *Registers) SetStack(value uintptr) {
	r.Regs[RegSP] = uint64(value)
}

// TLS returns the thread pointer.
func (r *Registers) TLS() uintptr {
	return uintptr(r.Regs[RegTP])
}

// SetTLS sets the thread pointer.
func (r *Registers) SetTLS(value uintptr) {
	r.Regs[RegTP] = uint64(value)
}

// AdvancePC steps ERA over the trapping instruction.
func (r *Registers) AdvancePC() {
	r.Era += TrapInstructionWidth
}

// FromUser returns true if the trap was taken from a non-zero privilege
// level.
func (r *Registers) FromUser() bool {
	return r.Prmd&PRMD_PPLV_MASK != 0
}

var regNames = [32]string{
	"zero", "ra", "tp", "sp", "a0", "a1", "a2", "a3",
	"a4", "a5", "a6", "a7", "t0", "t1", "t2", "t3",
	"t4", "t5", "t6", "t7", "t8", "u0", "fp", "s0",
	"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8",
}

// RegisterName returns the ABI name of general purpose register i.
func RegisterName(i int) string {
	return regNames[i]
}

// Dump writes a human-readable register dump, four registers per line,
// followed by the exception state.
func (r *Registers) Dump(w io.Writer) {
	for i := 0; i < len(r.Regs); i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(w, "%4s=%#018x", regNames[j], r.Regs[j])
			if j != i+3 {
				io.WriteString(w, " ")
			}
		}
		io.WriteString(w, "\n")
	}
	fmt.Fprintf(w, "prmd=%#x era=%#x badv=%#x crmd=%#x\n", r.Prmd, r.Era, r.Badv, r.Crmd)
}

// String implements fmt.Stringer.String.
func (r *Registers) String() string {
	var b strings.Builder
	r.Dump(&b)
	return b.String()
}
