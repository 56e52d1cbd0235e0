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

// Package mm implements user address spaces: a set of areas with
// permissions, populated a page at a time on fault and described to the
// hardware by page tables.
package mm

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/ring0/pagetables"
)

// areaDegree is the degree of the area B-tree.
const areaDegree = 8

// Area is a contiguous range of the address space with uniform permissions.
type Area struct {
	Range hostarch.AddrRange
	Flags hostarch.MappingFlags
}

// String implements fmt.Stringer.String.
func (a Area) String() string {
	return fmt.Sprintf("%v %v", a.Range, a.Flags)
}

func areaLess(a, b Area) bool {
	return a.Range.Start < b.Range.Start
}

// AddressSpace is a user address space.
type AddressSpace struct {
	mu sync.Mutex

	// areas is ordered by start address. Areas never overlap.
	areas *btree.BTreeG[Area]

	// pages maps each populated page to its frame.
	pages map[hostarch.Addr]uintptr

	frames *Frames
	pt     *pagetables.PageTables
}

// New returns an empty address space that takes frames from f.
func New(f *Frames) *AddressSpace {
	return &AddressSpace{
		areas:  btree.NewG(areaDegree, areaLess),
		pages:  make(map[hostarch.Addr]uintptr),
		frames: f,
		pt:     pagetables.New(pagetables.RuntimeTranslator{}),
	}
}

// Root returns the physical address of the page table root, as loaded into
// PGDL when a task of this address space runs.
func (as *AddressSpace) Root() uintptr {
	return as.pt.Root()
}

// PageTables returns the page tables of the address space.
func (as *AddressSpace) PageTables() *pagetables.PageTables {
	return as.pt
}

func checkRange(ar hostarch.AddrRange) error {
	if !ar.WellFormed() || ar.Length() == 0 || !ar.Start.IsPageAligned() || !ar.End.IsPageAligned() {
		return linuxerr.EINVAL
	}
	return nil
}

// Map creates an area covering ar. Pages are populated on first access.
//
// Map implements loader.Mapper.Map.
func (as *AddressSpace) Map(ar hostarch.AddrRange, flags hostarch.MappingFlags) error {
	if err := checkRange(ar); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.overlappingLocked(ar)) != 0 {
		return linuxerr.EEXIST
	}
	as.areas.ReplaceOrInsert(Area{Range: ar, Flags: flags})
	return nil
}

// Unmap removes ar from the address space, splitting areas that straddle
// its edges and releasing populated pages.
func (as *AddressSpace) Unmap(ar hostarch.AddrRange) error {
	if err := checkRange(ar); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, a := range as.overlappingLocked(ar) {
		as.areas.Delete(a)
		if a.Range.Start < ar.Start {
			as.areas.ReplaceOrInsert(Area{Range: hostarch.AddrRange{Start: a.Range.Start, End: ar.Start}, Flags: a.Flags})
		}
		if a.Range.End > ar.End {
			as.areas.ReplaceOrInsert(Area{Range: hostarch.AddrRange{Start: ar.End, End: a.Range.End}, Flags: a.Flags})
		}
	}
	for page, phys := range as.pages {
		if ar.Contains(page) {
			as.pt.Unmap(page, hostarch.PageSize)
			as.frames.Free(phys)
			delete(as.pages, page)
		}
	}
	return nil
}

// overlappingLocked returns the areas intersecting ar, in address order.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) overlappingLocked(ar hostarch.AddrRange) []Area {
	var out []Area
	as.areas.DescendLessOrEqual(Area{Range: hostarch.AddrRange{Start: ar.Start}}, func(a Area) bool {
		if a.Range.Overlaps(ar) {
			out = append(out, a)
		}
		return false
	})
	as.areas.AscendRange(Area{Range: hostarch.AddrRange{Start: ar.Start + 1}}, Area{Range: hostarch.AddrRange{Start: ar.End}}, func(a Area) bool {
		out = append(out, a)
		return true
	})
	return out
}

// findLocked returns the area containing addr.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) findLocked(addr hostarch.Addr) (Area, bool) {
	var (
		found Area
		ok    bool
	)
	as.areas.DescendLessOrEqual(Area{Range: hostarch.AddrRange{Start: addr}}, func(a Area) bool {
		found, ok = a, a.Range.Contains(addr)
		return false
	})
	return found, ok
}

// Find returns the area containing addr.
func (as *AddressSpace) Find(addr hostarch.Addr) (Area, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.findLocked(addr)
}

// Areas returns every area in address order.
func (as *AddressSpace) Areas() []Area {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]Area, 0, as.areas.Len())
	as.areas.Ascend(func(a Area) bool {
		out = append(out, a)
		return true
	})
	return out
}

// populateLocked backs the page containing addr with a frame and installs
// its translation.
//
// Preconditions: as.mu is locked. addr lies in a.
func (as *AddressSpace) populateLocked(addr hostarch.Addr, a Area) (uintptr, error) {
	page := addr.RoundDown()
	if phys, ok := as.pages[page]; ok {
		return phys, nil
	}
	phys, err := as.frames.Allocate()
	if err != nil {
		return 0, err
	}
	as.pages[page] = phys
	as.pt.Map(page, hostarch.PageSize, pagetables.MapOpts{
		Access:     a.Flags & (hostarch.AnyAccess | hostarch.User),
		MemoryType: hostarch.MemoryTypeForFlags(a.Flags),
	}, phys)
	return phys, nil
}

// HandlePageFault resolves a fault at addr for the given access. It returns
// false if addr is not mapped or the area does not permit the access, in
// which case the fault is fatal to the faulting context.
func (as *AddressSpace) HandlePageFault(addr hostarch.Addr, access hostarch.MappingFlags) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	a, ok := as.findLocked(addr)
	if !ok {
		log.Debugf("Fault at %v (%v): no area", addr, access)
		return false
	}
	if !a.Flags.SupersetOf(access) {
		log.Debugf("Fault at %v (%v): area %v forbids access", addr, access, a)
		return false
	}
	if _, err := as.populateLocked(addr, a); err != nil {
		log.Warningf("Fault at %v (%v): %v", addr, access, err)
		return false
	}
	return true
}

// Translate returns the physical address and permissions installed in the
// page tables for addr.
func (as *AddressSpace) Translate(addr hostarch.Addr) (uintptr, hostarch.MappingFlags, bool) {
	phys, opts, ok := as.pt.Lookup(addr)
	return phys, opts.Access, ok
}

// Populated returns the number of populated pages.
func (as *AddressSpace) Populated() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.pages)
}

// copyLocked copies between buf and the address space starting at addr,
// ignoring area permissions. Pages are populated as needed.
//
// Preconditions: as.mu is locked.
func (as *AddressSpace) copyLocked(addr hostarch.Addr, buf []byte, out bool) (int, error) {
	done := 0
	for done < len(buf) {
		cur := addr + hostarch.Addr(done)
		if cur < addr {
			return done, linuxerr.EFAULT
		}
		a, ok := as.findLocked(cur)
		if !ok {
			return done, linuxerr.EFAULT
		}
		phys, err := as.populateLocked(cur, a)
		if err != nil {
			return done, err
		}
		page := as.frames.Page(phys)
		off := cur.PageOffset()
		var n int
		if out {
			n = copy(page[off:], buf[done:])
		} else {
			n = copy(buf[done:], page[off:])
		}
		done += n
	}
	return done, nil
}

// CopyOut copies src into the address space at addr.
//
// CopyOut implements loader.Mapper.CopyOut.
func (as *AddressSpace) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.copyLocked(addr, src, true)
}

// CopyIn copies from the address space at addr into dst.
func (as *AddressSpace) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.copyLocked(addr, dst, false)
}

// Release unmaps everything and frees all frames and page tables.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for page, phys := range as.pages {
		as.frames.Free(phys)
		delete(as.pages, page)
	}
	as.areas.Clear(false)
	as.pt.Release()
}
