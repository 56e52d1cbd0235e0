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

package mm

import (
	"fmt"
	"sync"

	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
)

// Page is the backing store of one physical frame.
type Page [hostarch.PageSize]byte

// Frames is a pool of physical page frames in [base, base+size).
//
// Frames hands out physical addresses; the contents live in ordinary Go
// memory so that an emulated core can read and write them.
type Frames struct {
	mu    sync.Mutex
	base  uintptr
	next  uintptr
	end   uintptr
	free  []uintptr
	pages map[uintptr]*Page
}

// NewFrames returns a pool covering size bytes of physical memory at base.
// Both must be page aligned.
func NewFrames(base, size uintptr) *Frames {
	if base&(hostarch.PageSize-1) != 0 || size&(hostarch.PageSize-1) != 0 {
		panic(fmt.Sprintf("unaligned frame pool %#x+%#x", base, size))
	}
	return &Frames{
		base:  base,
		next:  base,
		end:   base + size,
		pages: make(map[uintptr]*Page),
	}
}

// Allocate returns a zeroed frame.
func (f *Frames) Allocate() (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var phys uintptr
	if n := len(f.free); n > 0 {
		phys = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		if f.next >= f.end {
			return 0, linuxerr.ENOMEM
		}
		phys = f.next
		f.next += hostarch.PageSize
	}
	f.pages[phys] = new(Page)
	return phys, nil
}

// Free returns a frame to the pool.
func (f *Frames) Free(phys uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pages[phys]; !ok {
		panic(fmt.Sprintf("freeing unallocated frame %#x", phys))
	}
	delete(f.pages, phys)
	f.free = append(f.free, phys)
}

// Page returns the contents of the frame containing phys, or nil if it is
// not allocated.
func (f *Frames) Page(phys uintptr) *Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[phys&^(hostarch.PageSize-1)]
}

// InUse returns the number of allocated frames.
func (f *Frames) InUse() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}
