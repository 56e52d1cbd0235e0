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

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if got, want := c.Platform.PhysVirtOffset, Hex(0x9000_0000_0000_0000); got != want {
		t.Errorf("PhysVirtOffset = %v, want %v", got, want)
	}
	if c.Devices.TimerIRQ != 11 || c.Devices.ExtIRQ != 2 || c.Devices.MaxIRQCount != 256 {
		t.Errorf("IRQ wiring = %d, %d, %d, want 11, 2, 256", c.Devices.TimerIRQ, c.Devices.ExtIRQ, c.Devices.MaxIRQCount)
	}
	if got := c.VirtToPhys(c.PhysToVirt(0x8000_1000)); got != 0x8000_1000 {
		t.Errorf("direct map round trip = %#x", got)
	}
	if got, want := uint64(c.UserStackBase()), uint64(c.User.StackTop-c.User.StackSize); got != want {
		t.Errorf("UserStackBase = %#x, want %#x", got, want)
	}
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse(strings.NewReader(`
[platform]
cpu-num = 4

[user]
stack-size = 0x2_0000
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Default()
	want.Platform.CPUs = 4
	want.User.StackSize = 0x2_0000
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "[platform]\ncpus = 2\n", "unknown keys: platform.cpus"},
		{"no cpus", "[platform]\ncpu-num = 0\n", "cpu-num"},
		{"unaligned stack", "[user]\nstack-size = 0x1234\n", "not page aligned"},
		{"bad hex", "[platform]\nphys-virt-offset = \"0xzz\"\n", "invalid number"},
		{"negative", "[user]\nspace-base = -4096\n", "negative"},
		{"timer irq out of range", "[devices]\ntimer-irq = 300\n", "devices.timer-irq"},
		{"interp outside user space", "[user]\ninterp-base = 0x0\n", "interp-base"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadAndWrite(t *testing.T) {
	c := Default()
	c.Platform.CPUs = 2
	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "thcore.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("config mismatch after round trip (-want +got):\n%s", diff)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}
