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

package ring0

import (
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
)

const insnsPerPage = hostarch.PageSize / 4

// Vectors holds the trap vector page followed by the TLB refill page. Both
// pages are carved out of a static area, so building them needs no
// allocation.
type Vectors struct {
	// unalignedData holds two pages at some page-aligned offset.
	unalignedData [3*hostarch.PageSize - 1]byte

	trapLen   int
	refillLen int
}

// Build writes the trap vector, which saves t0 and jumps to target, and the
// TLB refill handler, which walks the tables rooted at PGD.
func (v *Vectors) Build(target uint64) {
	trap, refill := v.pages()
	*trap = [insnsPerPage]uint32{}
	*refill = [insnsPerPage]uint32{}
	v.trapLen = buildTrapVector(trap[:], target)
	v.refillLen = buildRefill(refill[:])
}

// TrapEntry returns the address of the trap vector.
func (v *Vectors) TrapEntry() uintptr {
	trap, _ := v.pages()
	return pageAddr(trap)
}

// RefillEntry returns the address of the TLB refill handler.
func (v *Vectors) RefillEntry() uintptr {
	_, refill := v.pages()
	return pageAddr(refill)
}

// TrapCode returns the emitted trap vector.
func (v *Vectors) TrapCode() []uint32 {
	trap, _ := v.pages()
	return trap[:v.trapLen]
}

// RefillCode returns the emitted TLB refill handler.
func (v *Vectors) RefillCode() []uint32 {
	_, refill := v.pages()
	return refill[:v.refillLen]
}

// buildTrapVector emits:
//
//	csrwr  t0, KSAVE_T0
//	li.d   t0, target
//	jirl   zero, t0, 0
func buildTrapVector(dst []uint32, target uint64) int {
	n := 0
	dst[n] = csrwr(regT0, arch.CSR_KSAVE_T0)
	n++
	for _, w := range lid(regT0, target) {
		dst[n] = w
		n++
	}
	dst[n] = jirl(regZero, regT0, 0)
	n++
	return n
}

// buildRefill emits the three-level refill walk:
//
//	csrwr  t0, TLBRSAVE
//	csrrd  t0, PGD
//	lddir  t0, t0, 3
//	lddir  t0, t0, 2
//	lddir  t0, t0, 1
//	ldpte  t0, 0
//	ldpte  t0, 1
//	tlbfill
//	csrrd  t0, TLBRSAVE
//	ertn
func buildRefill(dst []uint32) int {
	code := [...]uint32{
		csrwr(regT0, arch.CSR_TLBRSAVE),
		csrrd(regT0, arch.CSR_PGD),
		lddir(regT0, regT0, 3),
		lddir(regT0, regT0, 2),
		lddir(regT0, regT0, 1),
		ldpte(regT0, 0),
		ldpte(regT0, 1),
		insnTLBFILL,
		csrrd(regT0, arch.CSR_TLBRSAVE),
		insnERTN,
	}
	return copy(dst, code[:])
}
