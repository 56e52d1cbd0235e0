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

// UserContext is the register state needed to enter user mode. It wraps
// exactly one Registers.
type UserContext struct {
	regs Registers
}

// NewUserContext returns a context that starts executing at entry with the
// stack pointer at ustackTop and arg0 in the first argument register. The
// previous privilege level is user with interrupts enabled, so that the
// exception return lands in user mode.
func NewUserContext(entry, ustackTop, arg0 uintptr) UserContext {
	var uc UserContext
	uc.regs.Regs[RegSP] = uint64(ustackTop)
	uc.regs.Regs[RegA0] = uint64(arg0)
	uc.regs.Era = uint64(entry)
	uc.regs.Prmd = PRMD_USER
	return uc
}

// UserContextFrom returns a context holding a copy of frame.
func UserContextFrom(frame *Registers) UserContext {
	return UserContext{regs: *frame}
}

// Registers returns the wrapped frame.
func (uc *UserContext) Registers() *Registers {
	return &uc.regs
}

// IP returns the user instruction pointer.
func (uc *UserContext) IP() uintptr { return uc.regs.IP() }

// SetIP sets the user instruction pointer.
func (uc *UserContext) SetIP(v uintptr) { uc.regs.SetIP(v) }

// Stack returns the user stack pointer.
func (uc *UserContext) Stack() uintptr { return uc.regs.Stack() }

// SetStack sets the user stack pointer.
func (uc *UserContext) SetStack(v uintptr) { uc.regs.SetStack(v) }

// Arg0 returns the first argument register.
func (uc *UserContext) Arg0() uintptr { return uc.regs.Arg0() }

// Return returns the syscall return value.
func (uc *UserContext) Return() uintptr { return uc.regs.Return() }

// SetReturn sets the syscall return value.
func (uc *UserContext) SetReturn(v uintptr) { uc.regs.SetReturn(v) }

// SyscallNo returns the syscall number.
func (uc *UserContext) SyscallNo() uintptr { return uc.regs.SyscallNo() }

// SyscallArgs returns the syscall arguments.
func (uc *UserContext) SyscallArgs() SyscallArguments { return uc.regs.SyscallArgs() }

// TLS returns the user thread pointer.
func (uc *UserContext) TLS() uintptr { return uc.regs.TLS() }

// SetTLS sets the user thread pointer.
func (uc *UserContext) SetTLS(v uintptr) { uc.regs.SetTLS(v) }

// Task context layout. These are the byte offsets of each field of
// TaskContext, shared with the context switch assembly.
const (
	TaskRA   = 0x00
	TaskSP   = 0x08
	TaskS    = 0x10
	TaskTP   = 0x60
	TaskPGDL = 0x68
	TaskSize = 0x70
)

// TaskContext is the state preserved across a kernel task switch: the
// callee-saved registers, the thread pointer and the user page table root.
type TaskContext struct {
	// RA is the return address; a fresh task starts here.
	RA uint64

	// SP is the kernel stack pointer.
	SP uint64

	// S holds s0..s8 followed by fp (r22). The native switch leaves fp
	// alone because r22 is the Go g register.
	S [10]uint64

	// TP is the thread pointer, switched only when thread-local storage is
	// enabled.
	TP uint64

	// PGDL is the user page table root, switched only when user space is
	// enabled.
	PGDL uint64
}

// Init prepares a fresh task that begins executing entry on the stack ending
// at kstackTop with tls as its thread pointer.
func (t *TaskContext) Init(entry, kstackTop, tls uintptr) {
	*t = TaskContext{
		RA: uint64(entry),
		SP: uint64(kstackTop),
		TP: uint64(tls),
	}
}

// SetEntryArg sets the argument a fresh task receives in s0.
func (t *TaskContext) SetEntryArg(arg uint64) {
	t.S[0] = arg
}

// SetPageTableRoot sets the physical address of the user page table root.
func (t *TaskContext) SetPageTableRoot(root uintptr) {
	t.PGDL = uint64(root)
}

// PageTableRoot returns the user page table root.
func (t *TaskContext) PageTableRoot() uintptr {
	return uintptr(t.PGDL)
}
