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

package loader

import "thcore.dev/thcore/pkg/abi/linux"

// AuxEntry is a single auxiliary vector entry.
type AuxEntry struct {
	Key   uint64
	Value uint64
}

// Auxv returns the auxiliary vector for img.
//
// AT_RANDOM and AT_EXECFN are placeholders; BuildStack fills them in once
// the strings have been placed. AT_BASE is the load base of img; a caller
// that loads an interpreter replaces it with the interpreter's base.
func (img *Image) Auxv(pageSize uint64) []AuxEntry {
	return []AuxEntry{
		{linux.AT_PHDR, uint64(img.Phdr)},
		{linux.AT_PHENT, img.PhEnt},
		{linux.AT_PHNUM, img.PhNum},
		{linux.AT_PAGESZ, pageSize},
		{linux.AT_BASE, uint64(img.Base)},
		{linux.AT_FLAGS, 0},
		{linux.AT_ENTRY, uint64(img.Entry)},
		{linux.AT_HWCAP, 0},
		{linux.AT_CLKTCK, linux.CLOCKS_PER_SEC},
		{linux.AT_PLATFORM, 0},
		{linux.AT_UID, 0},
		{linux.AT_EUID, 0},
		{linux.AT_GID, 0},
		{linux.AT_EGID, 0},
		{linux.AT_RANDOM, 0},
		{linux.AT_EXECFN, 0},
		{linux.AT_NULL, 0},
	}
}

// SetAux sets the value of the first entry with key in auxv. It returns
// false if there is no such entry.
func SetAux(auxv []AuxEntry, key, value uint64) bool {
	for i := range auxv {
		if auxv[i].Key == key {
			auxv[i].Value = value
			return true
		}
	}
	return false
}

// LookupAux returns the value of the first entry with key in auxv.
func LookupAux(auxv []AuxEntry, key uint64) (uint64, bool) {
	for _, e := range auxv {
		if e.Key == key {
			return e.Value, true
		}
	}
	return 0, false
}
