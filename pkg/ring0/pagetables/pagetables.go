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

// Package pagetables provides page tables in the format walked by the
// hardware page walker: four levels of 512 eight-byte entries, with
// directory entries holding the bare physical address of the next level.
package pagetables

import (
	"fmt"
	"sync"

	"thcore.dev/thcore/pkg/hostarch"
)

const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift

	entriesPerPage = 512
	levels         = 4

	// lowerTop is the end of the range translated through PGDL.
	lowerTop = 1 << 48
)

var levelShift = [levels]uint{pgdShift, pudShift, pmdShift, pteShift}

// Node is a single node within a set of page tables.
type Node struct {
	// unalignedData has unaligned data. Unfortunately, we can't really
	// rely on the allocator to give us what we want here. So we just throw
	// it at the wall and use the portion that matches. Gross. This may be
	// changed in the future to use a different allocation mechanism.
	//
	// Access must happen via functions found in pagetables_unsafe.go.
	unalignedData [(2 * hostarch.PageSize) - 1]byte

	// physical is the translated address of these entries.
	//
	// This is filled in at creation time.
	physical uintptr
}

// Translator translates to physical addresses.
type Translator interface {
	// TranslateToPhysical translates the given pointer object into a
	// "physical" address. We do not require that it translates back, the
	// reverse mapping is maintained internally.
	TranslateToPhysical(*PTEs) uintptr
}

// TranslatorFunc adapts a function to a Translator.
type TranslatorFunc func(*PTEs) uintptr

// TranslateToPhysical implements Translator.TranslateToPhysical.
func (f TranslatorFunc) TranslateToPhysical(ptes *PTEs) uintptr {
	return f(ptes)
}

// PageTables is a set of page tables.
type PageTables struct {
	mu sync.Mutex

	// root is the pagetable root.
	root *Node

	// translator is the translator passed at creation.
	translator Translator

	// allNodes is a set of nodes indexed by translator address.
	allNodes map[uintptr]*Node
}

// New returns new PageTables.
func New(t Translator) *PageTables {
	p := &PageTables{
		translator: t,
		allNodes:   make(map[uintptr]*Node),
	}
	p.root = p.allocNode()
	return p
}

// Root returns the physical address of the root table, as loaded into PGDL
// or PGDH.
func (p *PageTables) Root() uintptr {
	return p.root.physical
}

// setPageTable sets the given index as a page table.
func (p *PageTables) setPageTable(n *Node, index uintptr, child *Node) {
	p.allNodes[child.physical] = child
	n.PTEs()[index].setPageTable(child.physical)
}

// clearPageTable clears the given entry.
func (p *PageTables) clearPageTable(n *Node, index uintptr) {
	pte := &n.PTEs()[index]
	physical := pte.tableAddress()
	pte.Clear()
	delete(p.allNodes, physical)
}

// getPageTable returns the page table entry.
func (p *PageTables) getPageTable(n *Node, index uintptr) *Node {
	pte := &n.PTEs()[index]
	if pte.isEmpty() || pte.IsHuge() {
		return nil
	}
	return p.allNodes[pte.tableAddress()]
}

// Map installs a mapping with the given physical address.
//
// True is returned iff there was a previous mapping in the range.
//
// Precondition: addr & length must be aligned, their sum must not overflow.
func (p *PageTables) Map(addr hostarch.Addr, length uintptr, opts MapOpts, physical uintptr) bool {
	if opts.Access.Access() == hostarch.NoAccess {
		return p.Unmap(addr, length)
	}
	end, ok := addr.AddLength(uint64(length))
	if !ok {
		panic("pagetables.Map: overflow")
	}
	prev := false
	p.mu.Lock()
	defer p.mu.Unlock()
	p.iterateRange(uintptr(addr), uintptr(end), true, func(s, e uintptr, pte *PTE) {
		phys := physical + (s - uintptr(addr))
		prev = prev || (pte.Valid() && (phys != pte.Address() || opts != pte.Opts()))
		pte.Set(phys, opts)
	})
	return prev
}

// Unmap unmaps the given range.
//
// True is returned iff there was a previous mapping in the range.
func (p *PageTables) Unmap(addr hostarch.Addr, length uintptr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	end := uintptr(addr) + length
	if end < uintptr(addr) {
		end = ^uintptr(0)
	}
	p.iterateRange(uintptr(addr), end, false, func(s, e uintptr, pte *PTE) {
		pte.Clear()
		count++
	})
	return count > 0
}

// Release clears every mapping and frees all intermediate tables.
func (p *PageTables) Release() {
	p.Unmap(0, ^uintptr(0))
}

// Lookup returns the physical address and options for the given virtual
// address.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical uintptr, opts MapOpts, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := uintptr(addr.RoundDown())
	p.iterateRange(start, start+pteSize, false, func(s, e uintptr, pte *PTE) {
		physical = pte.Address() + (uintptr(addr) - s)
		opts = pte.Opts()
		ok = true
	})
	return physical, opts, ok
}

// allocNode allocates a new page.
func (p *PageTables) allocNode() *Node {
	n := new(Node)
	n.physical = p.translator.TranslateToPhysical(n.PTEs())
	return n
}

// addrEnd returns the next boundary of the given size after addr, or end if
// that comes first.
func addrEnd(addr, end, size uintptr) uintptr {
	next := (addr + size) &^ (size - 1)
	if next < addr || next > end {
		return end
	}
	return next
}

// iterateRange iterates over all appropriate levels of page tables for the
// given range.
//
// If alloc is set, then Set _must_ be called on all leaf entries visited,
// and intermediate tables are created as needed. If alloc is not set, only
// valid leaf entries are visited and intermediate tables left empty are
// released.
//
// Huge entries are visited once with their full block range and are never
// split.
func (p *PageTables) iterateRange(start, end uintptr, alloc bool, fn func(s, e uintptr, pte *PTE)) {
	if start%pteSize != 0 {
		panic(fmt.Sprintf("unaligned start: %#x", start))
	}
	if start > end {
		panic(fmt.Sprintf("start > end (%#x > %#x)", start, end))
	}
	if end > lowerTop {
		if alloc {
			panic(fmt.Sprintf("alloc [%#x, %#x) exceeds the user range", start, end))
		}
		end = lowerTop
	}
	p.walk(p.root, 0, start, end, alloc, fn)
}

func (p *PageTables) walk(n *Node, level int, start, end uintptr, alloc bool, fn func(s, e uintptr, pte *PTE)) {
	shift := levelShift[level]
	size := uintptr(1) << shift
	for start < end {
		index := (start >> shift) & (entriesPerPage - 1)
		pte := &n.PTEs()[index]
		nextBoundary := addrEnd(start, end, size)

		switch {
		case level == levels-1:
			if alloc || pte.Valid() {
				fn(start, nextBoundary, pte)
			}
		case pte.IsHuge():
			if alloc {
				panic(fmt.Sprintf("cannot split huge entry at %#x", start))
			}
			base := start &^ (size - 1)
			fn(base, base+size, pte)
		default:
			child := p.getPageTable(n, index)
			if child == nil {
				if !alloc {
					break
				}
				child = p.allocNode()
				p.setPageTable(n, index, child)
			}
			p.walk(child, level+1, start, nextBoundary, alloc, fn)
			if !alloc && child.empty() {
				p.clearPageTable(n, index)
			}
		}
		start = nextBoundary
	}
}

// empty returns true if no entry in n is in use.
func (n *Node) empty() bool {
	for _, pte := range n.PTEs() {
		if !pte.isEmpty() {
			return false
		}
	}
	return true
}
