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
	"os"

	"github.com/google/subcommands"
	"thcore.dev/thcore/pkg/ring0"
)

// Offsets implements subcommands.Command for the "offsets" command.
type Offsets struct{}

// Name implements subcommands.Command.Name.
func (*Offsets) Name() string {
	return "offsets"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Offsets) Synopsis() string {
	return "print the structure offsets used by the assembly"
}

// Usage implements subcommands.Command.Usage.
func (*Offsets) Usage() string {
	return `offsets - print the header included by the trap and switch assembly.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Offsets) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Offsets) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	ring0.Emit(os.Stdout)
	return subcommands.ExitSuccess
}
