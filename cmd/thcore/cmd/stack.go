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

package cmd

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/loader"
)

// Stack implements subcommands.Command for the "stack" command.
type Stack struct {
	envs stringSlice
}

// Name implements subcommands.Command.Name.
func (*Stack) Name() string {
	return "stack"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stack) Synopsis() string {
	return "build and dump the initial stack of an ELF executable"
}

// Usage implements subcommands.Command.Usage.
func (*Stack) Usage() string {
	return `stack [flags] <elf> [args...] - build the initial user stack and dump it.

The path is argv[0]; the remaining arguments follow it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stack) SetFlags(f *flag.FlagSet) {
	f.Var(&s.envs, "env", "environment variable in KEY=VALUE form. May be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stack) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	file, img, err := parseELF(conf, f.Arg(0), 0)
	if err != nil {
		Fatalf("%v", err)
	}
	defer file.Close()

	stackBase := conf.UserStackBase()
	stackSize := uint64(conf.User.StackSize)
	auxv := img.Auxv(hostarch.PageSize)
	buf, err := loader.BuildStack(f.Args(), s.envs, auxv, stackBase, stackSize)
	if err != nil {
		Fatalf("building stack: %v", err)
	}
	sp := loader.StackPointer(stackBase, stackSize, buf)
	layout, err := loader.DecodeStack(buf, sp)
	if err != nil {
		Fatalf("decoding stack: %v", err)
	}
	printLayout(os.Stdout, layout)
	fmt.Fprintln(os.Stdout)
	dumpWords(os.Stdout, buf, sp)
	return subcommands.ExitSuccess
}

func printLayout(out io.Writer, l *loader.StackLayout) {
	fmt.Fprintf(out, "sp = %v, argc = %d\n", l.SP, l.Argc)
	for i, a := range l.Args {
		fmt.Fprintf(out, "argv[%d] = %v %q\n", i, l.Argv[i], a)
	}
	for i, e := range l.Envs {
		fmt.Fprintf(out, "envp[%d] = %v %q\n", i, l.Envp[i], e)
	}
	printAuxv(out, l.Auxv)
}

// dumpWords prints buf, which starts at addr, as little-endian words.
func dumpWords(out io.Writer, buf []byte, addr hostarch.Addr) {
	for off := 0; off+8 <= len(buf); off += 16 {
		fmt.Fprintf(out, "%v: %016x", addr+hostarch.Addr(off), binary.LittleEndian.Uint64(buf[off:]))
		if off+16 <= len(buf) {
			fmt.Fprintf(out, " %016x", binary.LittleEndian.Uint64(buf[off+8:]))
		}
		fmt.Fprint(out, "  |")
		end := min(off+16, len(buf))
		for _, b := range buf[off:end] {
			if b < 0x20 || b > 0x7e {
				b = '.'
			}
			fmt.Fprintf(out, "%c", b)
		}
		fmt.Fprintln(out, "|")
	}
}
