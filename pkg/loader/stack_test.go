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
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
)

var testRandom = []byte("0123456789abcdef")

// repeatReader yields testRandom over and over and never runs out.
type repeatReader struct {
	off int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = testRandom[r.off%len(testRandom)]
		r.off++
	}
	return len(p), nil
}

// fixedRandom makes BuildStack deterministic for the duration of a test.
func fixedRandom(t *testing.T) {
	t.Helper()
	old := RandomSource
	RandomSource = &repeatReader{}
	t.Cleanup(func() { RandomSource = old })
}

func testAuxv() []AuxEntry {
	img := &Image{Entry: 0x401000, Phdr: 0x400040, PhEnt: 56, PhNum: 4}
	return img.Auxv(hostarch.PageSize)
}

func TestBuildStackLayout(t *testing.T) {
	fixedRandom(t)
	const (
		base = 0x3FE00000
		size = 0x20000
		top  = base + size
	)
	auxv := testAuxv()
	buf, err := BuildStack([]string{"prog"}, []string{"K=v"}, auxv, base, size)
	if err != nil {
		t.Fatalf("BuildStack failed: %v", err)
	}
	sp := StackPointer(base, size, buf)
	if sp != 0x3FE1FEA0 {
		t.Errorf("stack pointer = %v, want 0x3fe1fea0", sp)
	}

	word := func(addr hostarch.Addr) uint64 {
		return le.Uint64(buf[addr-sp:])
	}
	const (
		random = top - 16
		env0   = random - 4 // "K=v\0"
		arg0   = env0 - 5   // "prog\0"
	)
	for _, w := range []struct {
		name string
		addr hostarch.Addr
		want uint64
	}{
		{"argc", sp, 1},
		{"argv[0]", sp + 8, arg0},
		{"argv NULL", sp + 16, 0},
		{"envp[0]", sp + 24, env0},
		{"envp NULL", sp + 32, 0},
		{"auxv[0] key", sp + 40, linux.AT_PHDR},
		{"auxv[0] value", sp + 48, 0x400040},
	} {
		if got := word(w.addr); got != w.want {
			t.Errorf("%s at %v = %#x, want %#x", w.name, w.addr, got, w.want)
		}
	}
	if got := string(buf[arg0-sp : env0-sp]); got != "prog\x00" {
		t.Errorf("argv[0] string = %q", got)
	}
	if got := string(buf[env0-sp : random-sp]); got != "K=v\x00" {
		t.Errorf("envp[0] string = %q", got)
	}
	if got := buf[random-sp:]; !bytes.Equal(got, testRandom) {
		t.Errorf("random bytes = %q, want %q", got, testRandom)
	}

	if v, _ := LookupAux(auxv, linux.AT_RANDOM); v != random {
		t.Errorf("AT_RANDOM = %#x, want %#x", v, uint64(random))
	}
	if v, _ := LookupAux(auxv, linux.AT_EXECFN); v != arg0 {
		t.Errorf("AT_EXECFN = %#x, want %#x", v, uint64(arg0))
	}

	l, err := DecodeStack(buf, sp)
	if err != nil {
		t.Fatalf("DecodeStack failed: %v", err)
	}
	want := &StackLayout{
		SP:   sp,
		Argc: 1,
		Argv: []hostarch.Addr{arg0},
		Envp: []hostarch.Addr{env0},
		Args: []string{"prog"},
		Envs: []string{"K=v"},
		Auxv: auxv,
	}
	if diff := cmp.Diff(want, l); diff != "" {
		t.Errorf("decoded stack mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildStackAlignment(t *testing.T) {
	fixedRandom(t)
	const (
		base = 0x3FE00000
		size = 0x20000
	)
	for argc := 0; argc < 5; argc++ {
		for envc := 0; envc < 5; envc++ {
			for strLen := 0; strLen < 17; strLen += 3 {
				args := make([]string, argc)
				for i := range args {
					args[i] = strings.Repeat("a", strLen+i)
				}
				envs := make([]string, envc)
				for i := range envs {
					envs[i] = fmt.Sprintf("E%d=%s", i, strings.Repeat("v", strLen))
				}
				buf, err := BuildStack(args, envs, testAuxv(), base, size)
				if err != nil {
					t.Fatalf("BuildStack(%d args, %d envs, len %d) failed: %v", argc, envc, strLen, err)
				}
				sp := StackPointer(base, size, buf)
				if sp%16 != 0 {
					t.Errorf("BuildStack(%d args, %d envs, len %d): sp %v not 16-byte aligned", argc, envc, strLen, sp)
				}
				if got := le.Uint64(buf); got != uint64(argc) {
					t.Errorf("BuildStack(%d args, %d envs, len %d): argc = %d", argc, envc, strLen, got)
				}
				// argc, argv, NULL, envp and NULL sit below the auxiliary
				// vector, so it shares the stack pointer's alignment only
				// for an odd argc+envc.
				auxvOff := wordSize * uint64(argc+envc+3)
				if got, want := (uint64(sp)+auxvOff)%16 == 0, (argc+envc)%2 == 1; got != want {
					t.Errorf("BuildStack(%d args, %d envs, len %d): auxv 16-byte aligned = %t, want %t", argc, envc, strLen, got, want)
				}
				if k := le.Uint64(buf[auxvOff:]); k != linux.AT_PHDR {
					t.Errorf("BuildStack(%d args, %d envs, len %d): first auxv key at offset %d = %d", argc, envc, strLen, auxvOff, k)
				}
				l, err := DecodeStack(buf, sp)
				if err != nil {
					t.Fatalf("DecodeStack failed: %v", err)
				}
				if diff := cmp.Diff(args, l.Args, cmpEmpty); diff != "" {
					t.Errorf("args mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(envs, l.Envs, cmpEmpty); diff != "" {
					t.Errorf("envs mismatch (-want +got):\n%s", diff)
				}
			}
		}
	}
}

// cmpEmpty treats nil and empty slices as equal.
var cmpEmpty = cmp.Comparer(func(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
})

func TestBuildStackNoArgs(t *testing.T) {
	fixedRandom(t)
	auxv := testAuxv()
	if _, err := BuildStack(nil, nil, auxv, 0x10000, 0x1000); err != nil {
		t.Fatalf("BuildStack failed: %v", err)
	}
	if v, _ := LookupAux(auxv, linux.AT_EXECFN); v != 0 {
		t.Errorf("AT_EXECFN = %#x with no arguments, want 0", v)
	}
	if v, _ := LookupAux(auxv, linux.AT_RANDOM); v != 0x11000-16 {
		t.Errorf("AT_RANDOM = %#x, want %#x", v, 0x11000-16)
	}
}

func TestBuildStackOverflow(t *testing.T) {
	fixedRandom(t)
	args := []string{strings.Repeat("x", 4096)}
	_, err := BuildStack(args, nil, testAuxv(), 0x10000, 0x1000)
	if !linuxerr.Equals(linuxerr.E2BIG, err) {
		t.Errorf("BuildStack with oversized args = %v, want E2BIG", err)
	}
}

func TestDecodeStackErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"huge argc", []byte{0xff, 0xff, 0, 0, 0, 0, 0, 0}},
		{"dangling argv", append(le.AppendUint64(nil, 1), le.AppendUint64(nil, 0xdead)...)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeStack(tc.buf, 0x1000); err == nil {
				t.Errorf("DecodeStack succeeded")
			}
		})
	}
}
