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

import (
	"fmt"

	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
)

// maxLoaderAttempts is the maximum number of interpreter scripts followed
// before giving up with ELOOP.
const maxLoaderAttempts = 6

// Mapper is the part of an address space that program loading needs.
type Mapper interface {
	// Map creates an anonymous, zero-filled mapping of ar.
	Map(ar hostarch.AddrRange, flags hostarch.MappingFlags) error

	// CopyOut copies src to addr, ignoring mapping permissions.
	CopyOut(addr hostarch.Addr, src []byte) (int, error)
}

// LoadOpts configures Load.
type LoadOpts struct {
	// Filename is the path the program was opened from.
	Filename string

	// Args and Envs are the argument and environment vectors.
	Args []string
	Envs []string

	// UserBase is the lowest address a fixed-address image may use.
	UserBase hostarch.Addr

	// InterpBase is the load base of interpreters and static PIEs.
	InterpBase hostarch.Addr

	// Bias is added to the base of position-independent images.
	Bias int64

	// StackBase and StackSize describe the user stack region.
	StackBase hostarch.Addr
	StackSize uint64

	// Open returns the contents of the file at path. It is used for
	// interpreter scripts and PT_INTERP.
	Open func(path string) ([]byte, error)
}

// Program is a loaded program.
type Program struct {
	// Image is the main executable.
	Image *Image

	// Interpreter is the dynamic linker, if the image named one.
	Interpreter *Image

	// Entry is where execution starts: the interpreter entry if there is
	// one, otherwise the image entry.
	Entry hostarch.Addr

	// Stack is the initial stack pointer.
	Stack hostarch.Addr

	// Args is the final argument vector, after interpreter scripts.
	Args []string

	// Auxv is the auxiliary vector placed on the stack.
	Auxv []AuxEntry
}

// Load loads the program in data into m, along with its interpreter, and
// builds its initial stack.
func Load(m Mapper, data []byte, opts LoadOpts) (*Program, error) {
	args := opts.Args
	filename := opts.Filename
	for attempt := 0; IsInterpreterScript(data); attempt++ {
		if attempt >= maxLoaderAttempts {
			return nil, linuxerr.ELOOP
		}
		path, newargv, err := ParseInterpreterScript(filename, data, args)
		if err != nil {
			return nil, err
		}
		if data, err = open(opts, path); err != nil {
			return nil, err
		}
		filename, args = path, newargv
	}

	img, err := Parse(data, opts.InterpBase, opts.Bias, opts.UserBase)
	if err != nil {
		return nil, err
	}
	if err := loadSegments(m, img, data); err != nil {
		return nil, err
	}

	p := &Program{Image: img, Entry: img.Entry, Args: args}
	auxv := img.Auxv(hostarch.PageSize)
	if img.Interpreter != "" {
		idata, err := open(opts, img.Interpreter)
		if err != nil {
			return nil, err
		}
		interp, err := Parse(idata, opts.InterpBase, 0, opts.UserBase)
		if err != nil {
			return nil, fmt.Errorf("interpreter %q: %w", img.Interpreter, err)
		}
		if interp.Interpreter != "" {
			return nil, fmt.Errorf("interpreter %q has its own interpreter: %w", img.Interpreter, ErrMultipleInterpreters)
		}
		if err := loadSegments(m, interp, idata); err != nil {
			return nil, err
		}
		p.Interpreter = interp
		p.Entry = interp.Entry
		SetAux(auxv, linux.AT_BASE, uint64(interp.Base))
	}

	stack := hostarch.AddrRange{Start: opts.StackBase, End: opts.StackBase + hostarch.Addr(opts.StackSize)}
	if err := m.Map(stack, hostarch.ReadWrite|hostarch.User); err != nil {
		return nil, fmt.Errorf("mapping stack %v: %w", stack, err)
	}
	buf, err := BuildStack(args, opts.Envs, auxv, opts.StackBase, opts.StackSize)
	if err != nil {
		return nil, err
	}
	p.Stack = StackPointer(opts.StackBase, opts.StackSize, buf)
	if _, err := m.CopyOut(p.Stack, buf); err != nil {
		return nil, fmt.Errorf("writing initial stack: %w", err)
	}
	p.Auxv = auxv

	log.Debugf("Loaded %q: entry %v, stack %v, %d segments", filename, p.Entry, p.Stack, len(img.Segments))
	return p, nil
}

func open(opts LoadOpts, path string) ([]byte, error) {
	if opts.Open == nil {
		return nil, linuxerr.ENOENT
	}
	return opts.Open(path)
}

// loadSegments maps every PT_LOAD segment of img and copies in its file
// contents. The remainder of each segment stays zero. A page shared with
// the previous segment keeps the previous segment's permissions.
func loadSegments(m Mapper, img *Image, data []byte) error {
	var mapped hostarch.Addr
	for _, s := range img.Segments {
		if s.Filesz > s.Memsz {
			return fmt.Errorf("%w: segment at %v has filesz %#x > memsz %#x", ErrMalformed, s.Vaddr, s.Filesz, s.Memsz)
		}
		end := s.Offset + s.Filesz
		if end < s.Offset || end > uint64(len(data)) {
			return fmt.Errorf("%w: segment at %v outside file", ErrMalformed, s.Vaddr)
		}
		start := s.Vaddr.RoundDown()
		last, ok := s.End().RoundUp()
		if !ok {
			return fmt.Errorf("%w: segment at %v overflows", ErrMalformed, s.Vaddr)
		}
		if start < mapped {
			start = mapped
		}
		if start < last {
			ar := hostarch.AddrRange{Start: start, End: last}
			if err := m.Map(ar, s.Flags); err != nil {
				return fmt.Errorf("mapping segment %v: %w", ar, err)
			}
			mapped = last
		}
		if s.Filesz > 0 {
			if _, err := m.CopyOut(s.Vaddr, data[s.Offset:end]); err != nil {
				return fmt.Errorf("copying segment at %v: %w", s.Vaddr, err)
			}
		}
	}
	return nil
}
