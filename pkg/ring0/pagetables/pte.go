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
	"fmt"

	"thcore.dev/thcore/pkg/hostarch"
)

// Entry bits.
const (
	// Valid marks a leaf or huge entry as translating.
	Valid = 1 << 0

	// Dirty permits stores through the entry.
	Dirty = 1 << 1

	plvShift = 2
	plvMask  = 0x3 << plvShift
	plvUser  = 0x3 << plvShift

	matShift = 4
	matMask  = 0x3 << matShift

	// Huge on a directory entry marks it as a block mapping. The same bit
	// is the global bit of a leaf entry, which is never set here.
	Huge = 1 << 6

	// Present and Writable are software bits tracked alongside Valid and
	// Dirty.
	Present  = 1 << 7
	Writable = 1 << 8

	// HugeGlobal is the global bit of a huge entry.
	HugeGlobal = 1 << 12

	// NoRead, NoExecute and RestrictPLV are the high permission bits.
	NoRead      = 1 << 61
	NoExecute   = 1 << 62
	RestrictPLV = 1 << 63

	addrMask = 0x0000_ffff_ffff_f000
)

// MapOpts are mapping options.
type MapOpts struct {
	// Access is the permission set. Read, Write, Execute and User are
	// honoured.
	Access hostarch.MappingFlags

	// MemoryType is the memory type.
	MemoryType hostarch.MemoryType
}

// PTE is a page table entry.
type PTE uint64

// PTEs is a collection of entries.
type PTEs [entriesPerPage]PTE

// Clear clears this PTE.
func (p *PTE) Clear() {
	*p = 0
}

// isEmpty returns true if nothing is installed in the entry.
func (p *PTE) isEmpty() bool {
	return *p == 0
}

// Valid returns true iff this entry is a valid translation.
func (p *PTE) Valid() bool {
	return *p&Valid != 0
}

// IsHuge returns true iff this directory entry is a block mapping.
func (p *PTE) IsHuge() bool {
	return *p&Huge != 0 && *p&Valid != 0
}

// Address extracts the address. This should only be called if Valid returns
// true.
func (p *PTE) Address() uintptr {
	a := uint64(*p) & addrMask
	if p.IsHuge() {
		a &^= HugeGlobal
	}
	return uintptr(a)
}

// tableAddress returns the physical address held in a directory entry.
func (p *PTE) tableAddress() uintptr {
	return uintptr(*p)
}

// setPageTable points a directory entry at the next level. Directory entries
// carry no flag bits.
func (p *PTE) setPageTable(physical uintptr) {
	if physical&(hostarch.PageSize-1) != 0 {
		panic(fmt.Sprintf("unaligned page table %#x", physical))
	}
	*p = PTE(physical)
}

// Set sets this PTE value.
func (p *PTE) Set(addr uintptr, opts MapOpts) {
	if !opts.Access.Any(hostarch.AnyAccess) {
		p.Clear()
		return
	}
	v := (uint64(addr) & addrMask) | Valid | Present
	if opts.Access.Any(hostarch.Write) {
		v |= Writable | Dirty
	}
	if !opts.Access.Any(hostarch.Read) {
		v |= NoRead
	}
	if !opts.Access.Any(hostarch.Execute) {
		v |= NoExecute
	}
	if opts.Access.Any(hostarch.User) {
		v |= plvUser
	}
	v |= opts.MemoryType.MAT() << matShift
	*p = PTE(v)
}

// Opts returns the PTE options.
//
// These are all options except Valid, Dirty and Huge.
func (p *PTE) Opts() MapOpts {
	v := uint64(*p)
	var f hostarch.MappingFlags
	if v&NoRead == 0 {
		f |= hostarch.Read
	}
	if v&Writable != 0 {
		f |= hostarch.Write
	}
	if v&NoExecute == 0 {
		f |= hostarch.Execute
	}
	if v&plvMask == plvUser {
		f |= hostarch.User
	}
	return MapOpts{
		Access:     f,
		MemoryType: memoryTypeForMAT((v & matMask) >> matShift),
	}
}

func memoryTypeForMAT(mat uint64) hostarch.MemoryType {
	switch mat {
	case 1:
		return hostarch.MemoryTypeWriteBack
	case 2:
		return hostarch.MemoryTypeWriteCombine
	default:
		return hostarch.MemoryTypeUncached
	}
}

// String implements fmt.Stringer.String.
func (p *PTE) String() string {
	if !p.Valid() {
		if p.isEmpty() {
			return "empty"
		}
		return fmt.Sprintf("table@%#x", p.tableAddress())
	}
	o := p.Opts()
	kind := "page"
	if p.IsHuge() {
		kind = "huge"
	}
	return fmt.Sprintf("%s@%#x %s %s", kind, p.Address(), o.Access, o.MemoryType.ShortString())
}
