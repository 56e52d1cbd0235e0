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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/errors"
	"thcore.dev/thcore/pkg/hostarch"
)

const (
	wordSize      = 8
	randomSize    = 16
	stackAlign    = 16
	elfHeaderSize = 64
)

var le = binary.LittleEndian

// RandomSource supplies the AT_RANDOM bytes. Tests replace it to get a
// reproducible stack.
var RandomSource io.Reader = rand.Reader

// ErrStackOverflow is returned when the initial stack does not fit in the
// stack region.
var ErrStackOverflow = errors.New(unix.E2BIG, "initial stack too large")

// BuildStack builds the initial user stack for a stack region of stackSize
// bytes starting at stackBase.
//
// The returned buffer is the top of the region: it must be copied to
// StackPointer(stackBase, stackSize, buf), which is 16-byte aligned and
// holds argc. From the stack pointer upward the layout is argc, argv
// pointers, NULL, envp pointers, NULL, the auxiliary vector, padding, a
// NULL word, the argument strings, the environment strings and finally 16
// random bytes.
//
// The AT_RANDOM entry of auxv is set to the address of the random bytes and
// AT_EXECFN to the address of args[0], if there is one. auxv is updated in
// place.
func BuildStack(args, envs []string, auxv []AuxEntry, stackBase hostarch.Addr, stackSize uint64) ([]byte, error) {
	top := uint64(stackBase) + stackSize

	var strSize uint64
	for _, s := range envs {
		strSize += uint64(len(s)) + 1
	}
	for _, s := range args {
		strSize += uint64(len(s)) + 1
	}
	// Random bytes, strings and a NULL word.
	hi := randomSize + strSize + wordSize
	// auxv, NULL, envp, NULL, argv, argc.
	words := 2*uint64(len(auxv)) + 1 + uint64(len(envs)) + 1 + uint64(len(args)) + 1
	// The padding aligns the final stack pointer, which the ABI requires at
	// process entry. The auxiliary vector then starts len(args)+len(envs)+3
	// words above it and is aligned only when len(args)+len(envs) is odd;
	// both cannot hold for every input.
	pad := (top - hi - wordSize*words) % stackAlign
	total := hi + pad + wordSize*words
	if total > stackSize || top < total {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrStackOverflow, total, stackSize)
	}

	sp := top - total
	if sp%stackAlign != 0 {
		panic(fmt.Sprintf("misaligned initial stack pointer %#x", sp))
	}
	buf := make([]byte, total)
	at := func(addr uint64) []byte { return buf[addr-sp:] }

	cur := top - randomSize
	random := cur
	if _, err := io.ReadFull(RandomSource, at(random)[:randomSize]); err != nil {
		return nil, fmt.Errorf("reading AT_RANDOM bytes: %w", err)
	}

	putString := func(s string) uint64 {
		cur -= uint64(len(s)) + 1
		copy(at(cur), s)
		at(cur)[len(s)] = 0
		return cur
	}
	envp := make([]uint64, len(envs))
	for i, s := range envs {
		envp[i] = putString(s)
	}
	argv := make([]uint64, len(args))
	for i, s := range args {
		argv[i] = putString(s)
	}

	SetAux(auxv, linux.AT_RANDOM, random)
	if len(argv) > 0 {
		SetAux(auxv, linux.AT_EXECFN, argv[0])
	}

	// The NULL word and the padding are already zero.
	cur -= wordSize + pad
	cur -= wordSize * 2 * uint64(len(auxv))
	w := at(cur)
	for i, e := range auxv {
		le.PutUint64(w[16*i:], e.Key)
		le.PutUint64(w[16*i+8:], e.Value)
	}
	putWords := func(ws []uint64) {
		cur -= wordSize
		cur -= wordSize * uint64(len(ws))
		for i, v := range ws {
			le.PutUint64(at(cur)[wordSize*i:], v)
		}
	}
	putWords(envp)
	putWords(argv)
	cur -= wordSize
	le.PutUint64(at(cur), uint64(len(args)))

	if cur != sp {
		panic(fmt.Sprintf("initial stack layout mismatch: %#x != %#x", cur, sp))
	}
	return buf, nil
}

// StackPointer returns the initial stack pointer for a buffer returned by
// BuildStack.
func StackPointer(stackBase hostarch.Addr, stackSize uint64, buf []byte) hostarch.Addr {
	return stackBase + hostarch.Addr(stackSize) - hostarch.Addr(len(buf))
}

// StackLayout is a decoded initial stack.
type StackLayout struct {
	SP   hostarch.Addr
	Argc uint64
	Argv []hostarch.Addr
	Envp []hostarch.Addr
	Args []string
	Envs []string
	Auxv []AuxEntry
}

// DecodeStack parses an initial stack produced by BuildStack, located at sp.
func DecodeStack(buf []byte, sp hostarch.Addr) (*StackLayout, error) {
	l := &StackLayout{SP: sp}
	off := 0
	word := func() (uint64, error) {
		if off+wordSize > len(buf) {
			return 0, fmt.Errorf("stack truncated at offset %d", off)
		}
		v := le.Uint64(buf[off:])
		off += wordSize
		return v, nil
	}
	str := func(addr uint64) (string, error) {
		if addr < uint64(sp) || addr >= uint64(sp)+uint64(len(buf)) {
			return "", fmt.Errorf("string pointer %#x outside stack", addr)
		}
		b := buf[addr-uint64(sp):]
		for i, c := range b {
			if c == 0 {
				return string(b[:i]), nil
			}
		}
		return "", fmt.Errorf("unterminated string at %#x", addr)
	}

	var err error
	if l.Argc, err = word(); err != nil {
		return nil, err
	}
	if l.Argc > uint64(len(buf)/wordSize) {
		return nil, fmt.Errorf("implausible argc %d", l.Argc)
	}
	for i := uint64(0); i < l.Argc; i++ {
		p, err := word()
		if err != nil {
			return nil, err
		}
		s, err := str(p)
		if err != nil {
			return nil, err
		}
		l.Argv = append(l.Argv, hostarch.Addr(p))
		l.Args = append(l.Args, s)
	}
	if p, err := word(); err != nil || p != 0 {
		return nil, fmt.Errorf("argv not NULL terminated")
	}
	for {
		p, err := word()
		if err != nil {
			return nil, err
		}
		if p == 0 {
			break
		}
		s, err := str(p)
		if err != nil {
			return nil, err
		}
		l.Envp = append(l.Envp, hostarch.Addr(p))
		l.Envs = append(l.Envs, s)
	}
	for {
		k, err := word()
		if err != nil {
			return nil, err
		}
		v, err := word()
		if err != nil {
			return nil, err
		}
		l.Auxv = append(l.Auxv, AuxEntry{Key: k, Value: v})
		if k == linux.AT_NULL {
			break
		}
	}
	return l, nil
}
