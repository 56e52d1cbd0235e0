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

package pagetables

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"thcore.dev/thcore/pkg/hostarch"
)

// ErrUnalignedBootTables is returned by Init when the tables do not start on
// a page boundary.
var ErrUnalignedBootTables = errors.New("boot tables are not page aligned")

// BootHugeFlags are the flags of the boot page table blocks: valid, dirty,
// huge, present and writable. The memory type is strongly-ordered uncached
// and the privilege level is 0.
const BootHugeFlags = Valid | Dirty | Huge | Present | Writable

// Boot page table layout.
const (
	// BootLowPhys is the physical base of the first 1 GiB block, which
	// covers low device memory.
	BootLowPhys = 0

	// BootRAMPhys is the physical base of the block mapped at L1[2],
	// which covers the start of RAM.
	BootRAMPhys = 0x8000_0000
)

// BootTables is the two-level page table installed before the kernel has an
// allocator. L0 and L1 must be page aligned; NewBootTables returns tables
// that are.
type BootTables struct {
	// L0 is the root table.
	L0 PTEs

	// L1 holds 1 GiB blocks.
	L1 PTEs
}

// Init fills the boot tables: L0[0] points at L1, and L1 identity maps the
// first GiB and the GiB at BootRAMPhys with huge blocks. virtToPhys converts
// the address of L1 to the physical address placed in L0.
//
// Init performs no allocation. Unaligned tables are left untouched.
func (b *BootTables) Init(virtToPhys func(uintptr) uintptr) error {
	if uintptr(unsafe.Pointer(b))&(hostarch.PageSize-1) != 0 {
		return ErrUnalignedBootTables
	}
	b.L0 = PTEs{}
	b.L1 = PTEs{}
	b.L0[0].setPageTable(virtToPhys(uintptr(unsafe.Pointer(&b.L1))))
	b.L1[0] = PTE(BootLowPhys | BootHugeFlags)
	b.L1[BootRAMPhys>>pudShift] = PTE(BootRAMPhys | BootHugeFlags)
	return nil
}

// Root returns the virtual address of the root table.
func (b *BootTables) Root() uintptr {
	return uintptr(unsafe.Pointer(&b.L0))
}

// Translate walks the boot tables in software.
func (b *BootTables) Translate(va uintptr) (pa uintptr, ok bool) {
	if va >= lowerTop {
		return 0, false
	}
	if b.L0[(va>>pgdShift)&(entriesPerPage-1)].isEmpty() {
		return 0, false
	}
	e := &b.L1[(va>>pudShift)&(entriesPerPage-1)]
	if !e.IsHuge() {
		return 0, false
	}
	return e.Address() + va&(pudSize-1), true
}

// Dump writes the populated entries of the boot tables.
func (b *BootTables) Dump(w io.Writer) {
	for i := range b.L0 {
		if !b.L0[i].isEmpty() {
			fmt.Fprintf(w, "L0[%d] = %#x (%s)\n", i, uint64(b.L0[i]), b.L0[i].String())
		}
	}
	for i := range b.L1 {
		if !b.L1[i].isEmpty() {
			fmt.Fprintf(w, "L1[%d] = %#x (%s)\n", i, uint64(b.L1[i]), b.L1[i].String())
		}
	}
}
