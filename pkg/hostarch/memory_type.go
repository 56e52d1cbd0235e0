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

package hostarch

import "fmt"

// MemoryType specifies CPU memory access behavior.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is the default type for ordinary memory. On
	// LoongArch it is the coherent cached (CC) memory access type.
	//
	// This memory type is appropriate for typical application memory and must
	// be the zero value for MemoryType.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeWriteCombine permits merging of stores. On LoongArch it is the
	// weakly-ordered uncached (WUC) memory access type.
	MemoryTypeWriteCombine

	// MemoryTypeUncached is used for device memory. On LoongArch it is the
	// strongly-ordered uncached (SUC) memory access type.
	MemoryTypeUncached

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// MAT returns the 2-bit memory access type used in page table entries and
// direct-mapped window registers.
func (mt MemoryType) MAT() uint64 {
	switch mt {
	case MemoryTypeWriteBack:
		return 1
	case MemoryTypeWriteCombine:
		return 2
	case MemoryTypeUncached:
		return 0
	default:
		panic(fmt.Sprintf("invalid memory type %d", mt))
	}
}

// MemoryTypeForFlags returns the memory type implied by mapping flags.
func MemoryTypeForFlags(f MappingFlags) MemoryType {
	switch {
	case f&Device != 0:
		return MemoryTypeUncached
	case f&Uncached != 0:
		return MemoryTypeWriteCombine
	default:
		return MemoryTypeWriteBack
	}
}

func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeWriteCombine:
		return "WriteCombine"
	case MemoryTypeUncached:
		return "Uncached"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing mt.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "CC"
	case MemoryTypeWriteCombine:
		return "WUC"
	case MemoryTypeUncached:
		return "SUC"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
