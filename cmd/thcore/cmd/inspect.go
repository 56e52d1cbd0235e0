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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/loader"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	bias int64
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "print the load layout of an ELF executable"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <elf> - print header data, loadable segments and the auxiliary vector.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&i.bias, "bias", 0, "offset added to the load base of position-independent images.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	file, img, err := parseELF(conf, f.Arg(0), i.bias)
	if err != nil {
		Fatalf("%v", err)
	}
	defer file.Close()
	printImage(os.Stdout, img)
	return subcommands.ExitSuccess
}

func printImage(out io.Writer, img *loader.Image) {
	fmt.Fprintf(out, "Type:        %v\n", img.Type)
	fmt.Fprintf(out, "Machine:     %v\n", img.Machine)
	fmt.Fprintf(out, "PIE:         %t\n", img.PIE)
	fmt.Fprintf(out, "Base:        %v\n", img.Base)
	fmt.Fprintf(out, "Entry:       %v\n", img.Entry)
	fmt.Fprintf(out, "Phdr:        %v (%d x %d bytes)\n", img.Phdr, img.PhNum, img.PhEnt)
	if img.Interpreter != "" {
		fmt.Fprintf(out, "Interpreter: %s\n", img.Interpreter)
	}

	fmt.Fprintln(out, "\nSegments:")
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprint(w, "VADDR\tEND\tOFFSET\tFILESZ\tMEMSZ\tFLAGS\n")
	for _, s := range img.Segments {
		fmt.Fprintf(w, "%v\t%v\t%#x\t%#x\t%#x\t%v\n", s.Vaddr, s.End(), s.Offset, s.Filesz, s.Memsz, s.Flags)
	}
	w.Flush()

	fmt.Fprintln(out, "\nAuxiliary vector:")
	printAuxv(out, img.Auxv(hostarch.PageSize))
}

func printAuxv(out io.Writer, auxv []loader.AuxEntry) {
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, e := range auxv {
		fmt.Fprintf(w, "%s\t%#x\n", linux.AuxName(e.Key), e.Value)
	}
	w.Flush()
}
