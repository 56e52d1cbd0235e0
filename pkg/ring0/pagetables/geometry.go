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

// Geometry describes the page walker configuration: the bit position and
// width of the index at each level, and the entry width in bytes.
type Geometry struct {
	PTBase    uint64
	PTWidth   uint64
	Dir1Base  uint64
	Dir1Width uint64
	Dir2Base  uint64
	Dir2Width uint64
	Dir3Base  uint64
	Dir3Width uint64
	PTEWidth  uint64
}

// DefaultGeometry matches the tables built by this package: 4K pages and
// four levels of nine index bits each.
var DefaultGeometry = Geometry{
	PTBase:    pteShift,
	PTWidth:   9,
	Dir1Base:  pmdShift,
	Dir1Width: 9,
	Dir2Base:  pudShift,
	Dir2Width: 9,
	Dir3Base:  pgdShift,
	Dir3Width: 9,
	PTEWidth:  8,
}

// pteWidthCode encodes the entry width for PWCL.
func (g Geometry) pteWidthCode() uint64 {
	switch g.PTEWidth {
	case 8:
		return 0
	case 16:
		return 1
	case 32:
		return 2
	case 64:
		return 3
	default:
		panic("invalid page table entry width")
	}
}

// PWCL returns the value of the lower page walk controller register.
func (g Geometry) PWCL() uint64 {
	return g.PTBase |
		g.PTWidth<<5 |
		g.Dir1Base<<10 |
		g.Dir1Width<<15 |
		g.Dir2Base<<20 |
		g.Dir2Width<<25 |
		g.pteWidthCode()<<30
}

// PWCH returns the value of the higher page walk controller register.
func (g Geometry) PWCH() uint64 {
	return g.Dir3Base | g.Dir3Width<<6
}
