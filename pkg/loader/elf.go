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

// Package loader parses ELF executables, maps them into an address space and
// builds the initial user stack defined by the System V ABI.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"golang.org/x/sys/unix"
	"thcore.dev/thcore/pkg/errors"
	"thcore.dev/thcore/pkg/hostarch"
)

// Parse errors. All carry ENOEXEC so that an exec path can hand them back to
// user space unchanged.
var (
	// ErrBadMagic is returned when the image does not start with the ELF
	// magic.
	ErrBadMagic = errors.New(unix.ENOEXEC, "invalid ELF magic")

	// ErrUnsupportedType is returned for ELF types other than ET_EXEC and
	// ET_DYN, and for non-64-bit or big-endian images.
	ErrUnsupportedType = errors.New(unix.ENOEXEC, "unsupported ELF type")

	// ErrMultipleInterpreters is returned when an image has more than one
	// PT_INTERP header.
	ErrMultipleInterpreters = errors.New(unix.ENOEXEC, "multiple interpreters found")

	// ErrBelowUserBase is returned when a fixed-address image has a
	// loadable segment below the start of user space.
	ErrBelowUserBase = errors.New(unix.ENOEXEC, "invalid ELF base address")

	// ErrMalformed is returned when the headers cannot be decoded or refer
	// outside the image.
	ErrMalformed = errors.New(unix.ENOEXEC, "malformed ELF")
)

// Segment is a loadable program segment.
type Segment struct {
	// Offset is the file offset of the segment contents.
	Offset uint64

	// Vaddr is the destination address, adjusted by the load base.
	Vaddr hostarch.Addr

	// Memsz is the size of the segment in memory.
	Memsz uint64

	// Filesz is the number of bytes taken from the file; the rest of Memsz
	// is zero filled.
	Filesz uint64

	// Flags are the segment permissions. User is always set.
	Flags hostarch.MappingFlags
}

// End returns the end of the segment in memory.
func (s Segment) End() hostarch.Addr {
	return s.Vaddr + hostarch.Addr(s.Memsz)
}

// Image is a parsed executable, with every address already adjusted by the
// load base.
type Image struct {
	// Type is the ELF type.
	Type elf.Type

	// Machine is the target architecture.
	Machine elf.Machine

	// PIE is true for position-independent images: ET_DYN, or ET_EXEC
	// with a PT_INTERP header.
	PIE bool

	// Base is the load base.
	Base hostarch.Addr

	// Entry is the entry point.
	Entry hostarch.Addr

	// Phdr is the address of the program header table.
	Phdr hostarch.Addr

	// PhEnt is the size of a program header.
	PhEnt uint64

	// PhNum is the number of program headers.
	PhNum uint64

	// Segments are the PT_LOAD segments, in program header order.
	Segments []Segment

	// Interpreter is the PT_INTERP path, if any.
	Interpreter string
}

// Parse decodes an ELF image.
//
// The load base is 0 for ET_EXEC. For ET_DYN it is interpBase when the image
// has no PT_INTERP (the image is itself an interpreter or a static PIE) and 0
// when it has exactly one. Position-independent images additionally have
// bias added to the base. Fixed-address images must not place a loadable
// segment below userBase. Images with more than one PT_INTERP are rejected
// whatever their type.
func Parse(data []byte, interpBase hostarch.Addr, bias int64, userBase hostarch.Addr) (*Image, error) {
	if len(data) < len(elf.ELFMAG) || string(data[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, ErrBadMagic
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: %v %v", ErrUnsupportedType, f.Class, f.Data)
	}

	var (
		interps int
		interp  string
	)
	for _, p := range f.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		interps++
		if interps == 1 {
			interp, err = readInterpreter(p, data)
			if err != nil {
				return nil, err
			}
		}
	}

	if interps > 1 {
		return nil, ErrMultipleInterpreters
	}

	pie := f.Type == elf.ET_DYN || (f.Type == elf.ET_EXEC && interps > 0)
	if !pie {
		for _, p := range f.Progs {
			if p.Type == elf.PT_LOAD && p.Vaddr < uint64(userBase) {
				return nil, fmt.Errorf("%w: segment at %#x below %v", ErrBelowUserBase, p.Vaddr, userBase)
			}
		}
	}

	var base hostarch.Addr
	switch f.Type {
	case elf.ET_EXEC:
		base = 0
	case elf.ET_DYN:
		if interps == 0 {
			base = interpBase
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, f.Type)
	}
	if pie {
		base += hostarch.Addr(bias)
	}

	phoff, phentsize, phnum := programHeaderTable(data)
	img := &Image{
		Type:        f.Type,
		Machine:     f.Machine,
		PIE:         pie,
		Base:        base,
		Entry:       hostarch.Addr(f.Entry) + base,
		Phdr:        hostarch.Addr(phoff) + base,
		PhEnt:       phentsize,
		PhNum:       phnum,
		Interpreter: interp,
	}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		img.Segments = append(img.Segments, Segment{
			Offset: p.Off,
			Vaddr:  hostarch.Addr(p.Vaddr) + base,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Flags:  progFlags(p.Flags),
		})
	}
	return img, nil
}

// programHeaderTable reads e_phoff, e_phentsize and e_phnum from a 64-bit
// little-endian header. debug/elf does not expose them.
func programHeaderTable(data []byte) (off, entsize, num uint64) {
	if len(data) < elfHeaderSize {
		return 0, 0, 0
	}
	off = le.Uint64(data[32:40])
	entsize = uint64(le.Uint16(data[54:56]))
	num = uint64(le.Uint16(data[56:58]))
	return off, entsize, num
}

func readInterpreter(p *elf.Prog, data []byte) (string, error) {
	end := p.Off + p.Filesz
	if end < p.Off || end > uint64(len(data)) || p.Filesz == 0 {
		return "", fmt.Errorf("%w: PT_INTERP out of range", ErrMalformed)
	}
	path := data[p.Off:end]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	if len(path) == 0 {
		return "", fmt.Errorf("%w: empty PT_INTERP", ErrMalformed)
	}
	return string(path), nil
}

func progFlags(f elf.ProgFlag) hostarch.MappingFlags {
	flags := hostarch.User
	if f&elf.PF_R != 0 {
		flags |= hostarch.Read
	}
	if f&elf.PF_W != 0 {
		flags |= hostarch.Write
	}
	if f&elf.PF_X != 0 {
		flags |= hostarch.Execute
	}
	return flags
}
