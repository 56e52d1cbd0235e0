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
	"unsafe"

	"thcore.dev/thcore/pkg/hostarch"
)

// PTEs returns aligned PTE entries.
func (n *Node) PTEs() *PTEs {
	addr := uintptr(unsafe.Pointer(&n.unalignedData[0]))
	offset := addr & (hostarch.PageSize - 1)
	if offset != 0 {
		offset = hostarch.PageSize - offset
	}
	return (*PTEs)(unsafe.Pointer(&n.unalignedData[offset]))
}

// NewBootTables returns boot tables whose L0 and L1 are page aligned.
func NewBootTables() *BootTables {
	buf := make([]byte, unsafe.Sizeof(BootTables{})+hostarch.PageSize-1)
	offset := -uintptr(unsafe.Pointer(&buf[0])) & (hostarch.PageSize - 1)
	return (*BootTables)(unsafe.Pointer(&buf[offset]))
}

// RuntimeTranslator uses the address of the table in this process as its
// physical address. It is used when the tables are only ever walked in
// software.
type RuntimeTranslator struct{}

// TranslateToPhysical implements Translator.TranslateToPhysical.
func (RuntimeTranslator) TranslateToPhysical(ptes *PTEs) uintptr {
	return uintptr(unsafe.Pointer(ptes))
}

// Pointer returns the address of the table itself.
func (ptes *PTEs) Pointer() uintptr {
	return uintptr(unsafe.Pointer(ptes))
}
