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
	"time"

	"github.com/google/subcommands"
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/kernel"
	"thcore.dev/thcore/pkg/platform/emulated"
)

// bootCSRs are the registers reported after boot.
var bootCSRs = []struct {
	name string
	csr  uint16
}{
	{"CRMD", arch.CSR_CRMD},
	{"PRMD", arch.CSR_PRMD},
	{"EUEN", arch.CSR_EUEN},
	{"ECFG", arch.CSR_ECFG},
	{"EENTRY", arch.CSR_EENTRY},
	{"TLBRENTRY", arch.CSR_TLBRENTRY},
	{"STLBPS", arch.CSR_STLBPS},
	{"TLBREHI", arch.CSR_TLBREHI},
	{"PWCL", arch.CSR_PWCL},
	{"PWCH", arch.CSR_PWCH},
	{"PGDL", arch.CSR_PGDL},
	{"PGDH", arch.CSR_PGDH},
	{"DMW0", arch.CSR_DMW0},
	{"DMW1", arch.CSR_DMW1},
	{"TCFG", arch.CSR_TCFG},
}

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel on an emulated board and print the resulting state"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot every configured CPU, then print each CPU's control
registers and the boot page table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&b.timeout, "timeout", 10*time.Second, "how long to wait for secondary CPUs to come online.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	board := emulated.NewBoard(conf.Platform.CPUs)
	defer board.Stop()
	k, err := kernel.New(conf, board, kernel.Opts{Console: os.Stdout})
	if err != nil {
		Fatalf("creating kernel: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	done := make(chan error, 1)
	k.Boot(func(*kernel.CPU) {
		done <- k.StartSecondaries(ctx)
	})
	select {
	case err := <-done:
		if err != nil {
			Fatalf("starting secondary CPUs: %v", err)
		}
	case <-board.Core(0).Stopped():
		_, reason := board.Core(0).Halted()
		Fatalf("CPU 0 stopped during boot: %s", reason)
	}
	board.Core(0).Wait()

	printCSRs(os.Stdout, board)
	fmt.Fprintln(os.Stdout, "\nBoot page table:")
	k.BootTables().Dump(os.Stdout)
	return subcommands.ExitSuccess
}

func printCSRs(out io.Writer, board *emulated.Board) {
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprint(w, "CSR")
	for i := 0; i < board.NumCPUs(); i++ {
		fmt.Fprintf(w, "\tCPU %d", i)
	}
	fmt.Fprintln(w)
	for _, r := range bootCSRs {
		fmt.Fprint(w, r.name)
		for i := 0; i < board.NumCPUs(); i++ {
			fmt.Fprintf(w, "\t%#x", board.Core(i).ReadCSR(r.csr))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
