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
	"unsafe"

	"thcore.dev/thcore/pkg/hostarch"
)

// pages returns the two aligned pages of the vector area.
func (v *Vectors) pages() (trap, refill *[insnsPerPage]uint32) {
	addr := uintptr(unsafe.Pointer(&v.unalignedData[0]))
	offset := addr & (hostarch.PageSize - 1)
	if offset != 0 {
		offset = hostarch.PageSize - offset
	}
	trap = (*[insnsPerPage]uint32)(unsafe.Pointer(&v.unalignedData[offset]))
	refill = (*[insnsPerPage]uint32)(unsafe.Pointer(&v.unalignedData[offset+hostarch.PageSize]))
	return trap, refill
}

func pageAddr(p *[insnsPerPage]uint32) uintptr {
	return uintptr(unsafe.Pointer(p))
}
