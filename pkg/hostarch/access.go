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

import "strings"

// MappingFlags is the set of permissions attached to a mapping or requested by
// a faulting access.
type MappingFlags uint32

const (
	// Read permits (or requests) loads.
	Read MappingFlags = 1 << iota

	// Write permits (or requests) stores.
	Write

	// Execute permits (or requests) instruction fetch.
	Execute

	// User marks a mapping as accessible from the user privilege level, or
	// an access as originating from it.
	User

	// Device marks a mapping as device memory.
	Device

	// Uncached marks a mapping as uncached.
	Uncached
)

const (
	// NoAccess has no permissions.
	NoAccess MappingFlags = 0

	// ReadWrite is Read|Write.
	ReadWrite = Read | Write

	// ReadExecute is Read|Execute.
	ReadExecute = Read | Execute

	// AnyAccess is Read|Write|Execute.
	AnyAccess = Read | Write | Execute
)

// Any returns true if any bit of o is set in f.
func (f MappingFlags) Any(o MappingFlags) bool {
	return f&o != 0
}

// Contains returns true if all bits of o are set in f.
func (f MappingFlags) Contains(o MappingFlags) bool {
	return f&o == o
}

// Access returns f restricted to Read, Write and Execute.
func (f MappingFlags) Access() MappingFlags {
	return f & AnyAccess
}

// SupersetOf returns true iff the access types in f permit every access
// requested by o. User is only required when o carries it.
func (f MappingFlags) SupersetOf(o MappingFlags) bool {
	want := o & (AnyAccess | User)
	return f&want == want
}

// String returns a pretty representation of f, e.g. "r-xu".
func (f MappingFlags) String() string {
	var b strings.Builder
	b.Grow(6)
	put := func(bit MappingFlags, c byte) {
		if f&bit != 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('-')
		}
	}
	put(Read, 'r')
	put(Write, 'w')
	put(Execute, 'x')
	put(User, 'u')
	if f&Device != 0 {
		b.WriteString("d")
	}
	if f&Uncached != 0 {
		b.WriteString("c")
	}
	return b.String()
}
