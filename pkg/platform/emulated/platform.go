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
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/mm"
	"thcore.dev/thcore/pkg/ring0"
)

// The methods below let a kernel drive the board without knowing it is
// emulated.

// Machine returns core i.
func (b *Board) Machine(i int) ring0.Machine {
	return b.cores[i]
}

// StartCPU runs fn as the first thread of core i.
func (b *Board) StartCPU(i int, fn func()) {
	b.cores[i].Start(fn)
}

// TrapEntry returns the address programmed into EENTRY. Traps on the board
// are delivered by calling the handler directly, so only its value matters.
func (b *Board) TrapEntry() uint64 {
	return KernelTextBase
}

// VirtToPhys translates kernel addresses. Kernel memory on the board is host
// memory and maps to itself.
func (b *Board) VirtToPhys(va uintptr) uintptr {
	return ring0.IdentityVirtToPhys(va)
}

// Kick raises the inter-processor interrupt line of core i.
func (b *Board) Kick(i int) {
	b.cores[i].RaiseInterrupt(arch.IRQ_IPI)
}

// AttachAddressSpace makes as visible to the cores.
func (b *Board) AttachAddressSpace(as *mm.AddressSpace) {
	b.Attach(as)
}

// DetachAddressSpace removes as.
func (b *Board) DetachAddressSpace(as *mm.AddressSpace) {
	b.Detach(as.Root())
}

// Board returns the board the core belongs to.
func (c *Core) Board() *Board {
	return c.board
}
