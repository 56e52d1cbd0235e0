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

// Package emulated is a software LoongArch board. Each Core implements
// ring0.Machine with a CSR file, a stable counter and a timer, and runs kernel
// tasks and user programs as goroutines so that exactly one of them executes
// on a core at a time.
//
// User programs are Go functions registered at an entry address. They reach
// the kernel only through the traps a real program would take: system calls,
// breakpoints, and page faults raised when an access is not permitted by the
// page tables of the attached address space.
package emulated

import (
	"fmt"
	"sync"

	"thcore.dev/thcore/pkg/hostarch"
)

// KernelTextBase is the address reported for kernel task entry points.
const KernelTextBase = 0x9000_0000_0020_0000

// AddressSpace is a user address space the cores translate through. It is
// found by its page table root, as written to PGDL.
type AddressSpace interface {
	// Root returns the physical address of the root table.
	Root() uintptr

	// Translate returns the frame and permissions installed for addr.
	Translate(addr hostarch.Addr) (uintptr, hostarch.MappingFlags, bool)

	// CopyIn copies from addr into dst.
	CopyIn(addr hostarch.Addr, dst []byte) (int, error)

	// CopyOut copies src to addr.
	CopyOut(addr hostarch.Addr, src []byte) (int, error)
}

// Program is a user program. It runs when a core returns to user mode at the
// address it was registered at.
type Program func(t *UserThread)

// Board is a set of cores sharing a stable counter, programs and address
// spaces.
type Board struct {
	cores []*Core

	mu       sync.Mutex
	time     uint64
	programs map[uint64]Program
	spaces   map[uintptr]AddressSpace
}

// NewBoard returns a board with ncpu cores.
func NewBoard(ncpu int) *Board {
	if ncpu <= 0 {
		panic(fmt.Sprintf("invalid core count %d", ncpu))
	}
	b := &Board{
		programs: make(map[uint64]Program),
		spaces:   make(map[uintptr]AddressSpace),
	}
	for i := 0; i < ncpu; i++ {
		b.cores = append(b.cores, newCore(b, i))
	}
	return b
}

// NumCPUs returns the number of cores.
func (b *Board) NumCPUs() int {
	return len(b.cores)
}

// Core returns core i.
func (b *Board) Core(i int) *Core {
	return b.cores[i]
}

// RegisterProgram installs p at entry.
func (b *Board) RegisterProgram(entry hostarch.Addr, p Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[uint64(entry)] = p
}

func (b *Board) program(entry uint64) (Program, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[entry]
	return p, ok
}

// Attach makes as visible to the cores under its root.
func (b *Board) Attach(as AddressSpace) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spaces[as.Root()] = as
}

// Detach removes the address space with the given root.
func (b *Board) Detach(root uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.spaces, root)
}

func (b *Board) space(root uintptr) (AddressSpace, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	as, ok := b.spaces[root]
	return as, ok
}

// Time returns the stable counter.
func (b *Board) Time() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.time
}

// Advance moves the stable counter forward and expires timers.
func (b *Board) Advance(ticks uint64) {
	b.mu.Lock()
	b.time += ticks
	b.mu.Unlock()
	for _, c := range b.cores {
		c.tick(ticks)
	}
}

// Stop stops every core that has not halted.
func (b *Board) Stop() {
	for _, c := range b.cores {
		c.Stop()
	}
}
