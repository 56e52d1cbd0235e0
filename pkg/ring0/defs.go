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

// Package ring0 is the privilege-boundary core: the trap dispatcher, the
// kernel task switch, entry into user mode and the boot sequence that turns
// on the MMU.
//
// Hardware is reached only through a Machine, which is implemented natively
// for loong64 in this package and in software by platform/emulated.
package ring0

import (
	"fmt"
	"sync/atomic"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
)

// MaxCPUs bounds the number of cores.
const MaxCPUs = 64

// TLB invalidation operations, as encoded in the invtlb instruction.
const (
	// InvalidateAll invalidates every TLB entry.
	InvalidateAll = 0

	// InvalidateAddr invalidates non-global entries matching an address.
	InvalidateAddr = 5
)

// TrapHandler receives traps taken on a core.
type TrapHandler interface {
	// Trap is called with the saved state of the interrupted context,
	// with interrupts disabled, at privilege level 0. When it returns the
	// frame is restored and execution resumes at frame.Era.
	Trap(frame *arch.Registers, fromUser bool)
}

// Machine is the hardware of a single core.
type Machine interface {
	// ReadCSR reads a control and status register.
	ReadCSR(csr uint16) uint64

	// WriteCSR writes a control and status register.
	WriteCSR(csr uint16, val uint64)

	// ReadTime reads the stable counter.
	ReadTime() uint64

	// ThreadPointer returns the tp register.
	ThreadPointer() uint64

	// SetThreadPointer sets the tp register.
	SetThreadPointer(tp uint64)

	// InvalidateTLB executes "dbar 0; invtlb op, zero, addr".
	InvalidateTLB(op uint8, addr uintptr)

	// ContextSwitch saves the callee-saved registers, stack pointer and
	// return address into cur and resumes next. It returns when cur is
	// switched back to.
	ContextSwitch(cur, next *arch.TaskContext)

	// ReturnToUser restores frame and executes ertn. It does not return.
	ReturnToUser(frame *arch.Registers)

	// KernelEntry returns the entry address and first argument with which
	// a fresh TaskContext runs fn. The argument is passed in s0.
	KernelEntry(fn func()) (entry, arg uint64)

	// SetTrapHandler sets the handler called by the trap vector.
	SetTrapHandler(h TrapHandler)

	// WaitForInterrupt idles until an interrupt is pending.
	WaitForInterrupt()

	// Halt stops the core. It does not return.
	Halt()
}

// Hooks are the kernel functions the trap dispatcher calls into.
type Hooks interface {
	// Syscall handles a system call from user mode. The return value is
	// placed in a0.
	Syscall(c *CPU, frame *arch.Registers, sysno uintptr) uintptr

	// PageFault resolves a page fault. It returns false if the fault
	// cannot be resolved.
	PageFault(c *CPU, addr hostarch.Addr, access hostarch.MappingFlags, fromUser bool) bool

	// Interrupt handles interrupt line irq. It returns false if no
	// handler was installed.
	Interrupt(c *CPU, irq int) bool
}

// KernelOpts are the options for the kernel.
type KernelOpts struct {
	// UserSpace enables system calls and user page table switching.
	UserSpace bool

	// TLS enables switching the thread pointer between tasks.
	TLS bool

	// TimerFrequency is the frequency of the stable counter, in Hz.
	TimerFrequency uint64
}

// Kernel is the state shared by all cores.
type Kernel struct {
	KernelOpts

	// entryStacks holds, per core, the top of the kernel stack the trap
	// vector switches to when entered from user mode.
	entryStacks [MaxCPUs]atomic.Uintptr

	// secondaryStack is the boot stack published for the next secondary
	// core; zero when none is pending.
	secondaryStack atomic.Uintptr
}

// Init initializes the kernel.
func (k *Kernel) Init(opts KernelOpts) {
	k.KernelOpts = opts
	for i := range k.entryStacks {
		k.entryStacks[i].Store(0)
	}
	k.secondaryStack.Store(0)
}

// EntryStack returns the trap-entry kernel stack top of core cpu.
func (k *Kernel) EntryStack(cpu int) uintptr {
	return k.entryStacks[cpu].Load()
}

// CPU is the per-core state.
type CPU struct {
	// kernel is the kernel this core was initialized with.
	kernel *Kernel

	// id is the value of the CPUID CSR.
	id int

	// machine is the core's hardware.
	machine Machine

	// hooks are the kernel hooks.
	hooks Hooks

	// spurious reports interrupts taken with no pending line.
	spurious log.Logger
}

// Init initializes a CPU.
func (c *CPU) Init(k *Kernel, m Machine, hooks Hooks) {
	c.kernel = k
	c.machine = m
	c.hooks = hooks
	c.id = int(m.ReadCSR(arch.CSR_CPUID))
	if c.id < 0 || c.id >= MaxCPUs {
		panic(fmt.Sprintf("CPU id %d out of range", c.id))
	}
	c.spurious = log.BasicRateLimitedLogger(spuriousLogPeriod)
	m.SetTrapHandler(c)
}

// ID returns the core number.
func (c *CPU) ID() int {
	return c.id
}

// Kernel returns the kernel this core belongs to.
func (c *CPU) Kernel() *Kernel {
	return c.kernel
}

// Machine returns the core's hardware.
func (c *CPU) Machine() Machine {
	return c.machine
}
