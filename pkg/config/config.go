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

// Package config holds the platform configuration: memory layout, user
// address space layout, CPU count and interrupt wiring. It is read from TOML,
// starting from an embedded default for the QEMU virt board.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/log"
)

//go:embed defconfig.toml
var defconfig string

// Hex is an unsigned value that may be written in TOML either as an integer
// or, for values beyond the signed 64-bit range, as a string such as
// "0x9000_0000_0000_0000".
type Hex uint64

// UnmarshalTOML implements toml.Unmarshaler.
func (h *Hex) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("negative value %d", v)
		}
		*h = Hex(v)
		return nil
	case string:
		n, err := strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 0, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", v, err)
		}
		*h = Hex(n)
		return nil
	default:
		return fmt.Errorf("want integer or string, got %T", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hex) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// String implements fmt.Stringer.String.
func (h Hex) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// Platform describes the board.
type Platform struct {
	Name            string `toml:"name"`
	CPUs            int    `toml:"cpu-num"`
	PhysMemoryBase  Hex    `toml:"phys-memory-base"`
	PhysMemorySize  Hex    `toml:"phys-memory-size"`
	PhysVirtOffset  Hex    `toml:"phys-virt-offset"`
	KernelStackSize Hex    `toml:"kernel-stack-size"`
}

// User describes the user address space.
type User struct {
	SpaceBase  Hex `toml:"space-base"`
	SpaceSize  Hex `toml:"space-size"`
	StackTop   Hex `toml:"stack-top"`
	StackSize  Hex `toml:"stack-size"`
	InterpBase Hex `toml:"interp-base"`
}

// Devices describes the timer, interrupt wiring and the physical frames
// handed to user address spaces.
type Devices struct {
	TimerFrequency uint64 `toml:"timer-frequency"`
	TimerIRQ       int    `toml:"timer-irq"`
	ExtIRQ         int    `toml:"ext-irq"`
	MaxIRQCount    int    `toml:"max-irq-count"`
	FramePoolBase  Hex    `toml:"frame-pool-base"`
	FramePoolSize  Hex    `toml:"frame-pool-size"`
}

// Config is the complete platform configuration.
type Config struct {
	Platform Platform `toml:"platform"`
	User     User     `toml:"user"`
	Devices  Devices  `toml:"devices"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	if _, err := toml.Decode(defconfig, c); err != nil {
		panic(fmt.Sprintf("invalid built-in configuration: %v", err))
	}
	return c
}

// Load reads the configuration at path. Keys missing from the file keep
// their default value; unknown keys are an error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

// Parse reads a configuration from a TOML document, as Load does.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	md, err := toml.NewDecoder(r).Decode(c)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
	}
	return nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.Platform.CPUs < 1 {
		return fmt.Errorf("platform.cpu-num must be at least 1, got %d", c.Platform.CPUs)
	}
	for name, v := range map[string]Hex{
		"platform.kernel-stack-size": c.Platform.KernelStackSize,
		"user.space-base":            c.User.SpaceBase,
		"user.space-size":            c.User.SpaceSize,
		"user.stack-top":             c.User.StackTop,
		"user.stack-size":            c.User.StackSize,
		"user.interp-base":           c.User.InterpBase,
		"devices.frame-pool-base":    c.Devices.FramePoolBase,
		"devices.frame-pool-size":    c.Devices.FramePoolSize,
	} {
		if uint64(v)&(hostarch.PageSize-1) != 0 {
			return fmt.Errorf("%s %v is not page aligned", name, v)
		}
	}
	if c.User.StackSize == 0 || c.User.StackSize > c.User.StackTop {
		return fmt.Errorf("user.stack-size %v does not fit below user.stack-top %v", c.User.StackSize, c.User.StackTop)
	}
	userEnd := c.User.SpaceBase + c.User.SpaceSize
	if userEnd < c.User.SpaceBase {
		return fmt.Errorf("user space %v+%v overflows", c.User.SpaceBase, c.User.SpaceSize)
	}
	if c.User.StackTop > userEnd || c.User.StackTop-c.User.StackSize < c.User.SpaceBase {
		return fmt.Errorf("user stack [%v, %v) outside user space [%v, %v)", c.User.StackTop-c.User.StackSize, c.User.StackTop, c.User.SpaceBase, userEnd)
	}
	if c.User.InterpBase < c.User.SpaceBase || c.User.InterpBase >= userEnd {
		return fmt.Errorf("user.interp-base %v outside user space", c.User.InterpBase)
	}
	if c.Devices.TimerFrequency == 0 {
		return fmt.Errorf("devices.timer-frequency must be positive")
	}
	if c.Devices.MaxIRQCount < 1 {
		return fmt.Errorf("devices.max-irq-count must be positive, got %d", c.Devices.MaxIRQCount)
	}
	for name, irq := range map[string]int{"devices.timer-irq": c.Devices.TimerIRQ, "devices.ext-irq": c.Devices.ExtIRQ} {
		if irq < 0 || irq >= c.Devices.MaxIRQCount {
			return fmt.Errorf("%s %d outside [0, %d)", name, irq, c.Devices.MaxIRQCount)
		}
	}
	if c.Devices.FramePoolSize == 0 {
		return fmt.Errorf("devices.frame-pool-size must be positive")
	}
	return nil
}

// UserStackBase returns the lowest address of the user stack.
func (c *Config) UserStackBase() hostarch.Addr {
	return hostarch.Addr(c.User.StackTop - c.User.StackSize)
}

// VirtToPhys translates a kernel direct-map address to a physical address.
func (c *Config) VirtToPhys(va uintptr) uintptr {
	return va - uintptr(c.Platform.PhysVirtOffset)
}

// PhysToVirt translates a physical address to its kernel direct-map address.
func (c *Config) PhysToVirt(pa uintptr) uintptr {
	return pa + uintptr(c.Platform.PhysVirtOffset)
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Platform configuration:")
	log.Infof("\t%s, %d CPU(s), memory %v+%v, direct map offset %v", c.Platform.Name, c.Platform.CPUs, c.Platform.PhysMemoryBase, c.Platform.PhysMemorySize, c.Platform.PhysVirtOffset)
	log.Infof("\tuser space %v+%v, stack top %v size %v, interpreter base %v", c.User.SpaceBase, c.User.SpaceSize, c.User.StackTop, c.User.StackSize, c.User.InterpBase)
	log.Infof("\ttimer %d Hz on IRQ %d, external IRQ %d, %d IRQs", c.Devices.TimerFrequency, c.Devices.TimerIRQ, c.Devices.ExtIRQ, c.Devices.MaxIRQCount)
}
