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

// Package kernel is the kernel built on ring0. It implements the trap hooks,
// creates kernel and user tasks, schedules them round-robin on each core and
// brings the secondary cores online.
package kernel

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/irq"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/mm"
	"thcore.dev/thcore/pkg/ring0"
	"thcore.dev/thcore/pkg/ring0/pagetables"
)

// Platform is the board the kernel runs on.
type Platform interface {
	// NumCPUs returns the number of cores.
	NumCPUs() int

	// Machine returns the hardware of core cpu.
	Machine(cpu int) ring0.Machine

	// StartCPU releases core cpu from reset running fn.
	StartCPU(cpu int, fn func())

	// TrapEntry returns the address of the trap vector.
	TrapEntry() uint64

	// VirtToPhys translates a kernel virtual address.
	VirtToPhys(va uintptr) uintptr

	// Kick raises the inter-processor interrupt on core cpu.
	Kick(cpu int)

	// AttachAddressSpace makes as reachable through its page table root.
	AttachAddressSpace(as *mm.AddressSpace)

	// DetachAddressSpace undoes AttachAddressSpace.
	DetachAddressSpace(as *mm.AddressSpace)
}

// Opts are kernel options.
type Opts struct {
	// Console receives what tasks write to file descriptors 1 and 2.
	Console io.Writer

	// TimeSlice is the scheduling quantum. Zero disables preemption; tasks
	// then run until they yield or exit.
	TimeSlice time.Duration
}

// Kernel is the kernel instance.
type Kernel struct {
	conf     *config.Config
	platform Platform
	opts     Opts

	r0 ring0.Kernel

	// bt are the boot page tables. Their root is installed in PGDH and
	// must be page aligned.
	bt *pagetables.BootTables

	irqs   *irq.Controller
	frames *mm.Frames

	// timerTicks counts timer interrupts on all cores.
	timerTicks atomic.Uint64

	// online is closed for each core once it is initialized.
	online []chan struct{}

	mu   sync.Mutex
	cpus []*CPU

	// bootStacks are the stacks handed to secondary cores.
	bootStacks [][]byte

	tasks   map[int32]*Task
	nextTID int32
}

// New returns a kernel for p configured by conf.
func New(conf *config.Config, p Platform, opts Opts) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if n := conf.Platform.CPUs; n > p.NumCPUs() || n > ring0.MaxCPUs {
		return nil, fmt.Errorf("%d CPUs configured, platform has %d", n, p.NumCPUs())
	}
	if conf.Devices.TimerIRQ != irq.TimerIRQ {
		return nil, fmt.Errorf("devices.timer-irq is %d, the core timer is wired to %d", conf.Devices.TimerIRQ, irq.TimerIRQ)
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	k := &Kernel{
		conf:     conf,
		platform: p,
		opts:     opts,
		bt:      pagetables.NewBootTables(),
		irqs:    irq.NewController(),
		frames:  mm.NewFrames(uintptr(conf.Devices.FramePoolBase), uintptr(conf.Devices.FramePoolSize)),
		online:  make([]chan struct{}, conf.Platform.CPUs),
		cpus:    make([]*CPU, conf.Platform.CPUs),
		tasks:   make(map[int32]*Task),
		nextTID: 1,
	}
	for i := range k.online {
		k.online[i] = make(chan struct{})
	}
	k.r0.Init(ring0.KernelOpts{
		UserSpace:      true,
		TLS:            true,
		TimerFrequency: conf.Devices.TimerFrequency,
	})
	k.irqs.Register(irq.TimerIRQ, func() { k.timerTicks.Add(1) })
	// Kicks only wake an idle core; the scheduler looks at its queue
	// after any interrupt.
	k.irqs.Register(arch.IRQ_IPI, func() {})
	return k, nil
}

// Config returns the configuration.
func (k *Kernel) Config() *config.Config {
	return k.conf
}

// IRQs returns the interrupt controller. Drivers register their handlers
// here.
func (k *Kernel) IRQs() *irq.Controller {
	return k.irqs
}

// Frames returns the physical frame pool backing user memory.
func (k *Kernel) Frames() *mm.Frames {
	return k.frames
}

// BootTables returns the boot page tables.
func (k *Kernel) BootTables() *pagetables.BootTables {
	return k.bt
}

// TimerTicks returns the number of timer interrupts taken.
func (k *Kernel) TimerTicks() uint64 {
	return k.timerTicks.Load()
}

// CPU returns core id, or nil if it has not been initialized.
func (k *Kernel) CPU(id int) *CPU {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id < 0 || id >= len(k.cpus) {
		return nil
	}
	return k.cpus[id]
}

// Boot starts the primary core. Once the MMU is on, main runs on it as the
// idle thread; the core halts when main returns.
func (k *Kernel) Boot(main func(c *CPU)) {
	k.platform.StartCPU(0, func() {
		ring0.BootPrimary(k.platform.Machine(0), k.bt, k.bootParams(func(id int) {
			main(k.initCPU(id))
		}))
	})
}

func (k *Kernel) bootParams(entry func(id int)) ring0.BootParams {
	return ring0.BootParams{
		Kernel:         &k.r0,
		VirtToPhys:     k.platform.VirtToPhys,
		TrapEntry:      k.platform.TrapEntry(),
		Entry:          entry,
		SecondaryEntry: k.secondaryEntry,
	}
}

// initCPU sets up the per-core state of the calling core.
func (k *Kernel) initCPU(id int) *CPU {
	if id >= len(k.cpus) {
		panic(fmt.Sprintf("CPU %d booted, only %d configured", id, len(k.cpus)))
	}
	c := &CPU{k: k}
	c.Init(&k.r0, k.platform.Machine(id), k)
	c.InitTimer()
	k.irqs.SetEnabled(&c.CPU, arch.IRQ_IPI, true)
	k.irqs.SetEnabled(&c.CPU, k.conf.Devices.ExtIRQ, true)
	if k.opts.TimeSlice > 0 {
		c.armTimer()
	}
	k.mu.Lock()
	k.cpus[id] = c
	k.mu.Unlock()
	close(k.online[id])
	log.Infof("CPU %d online", id)
	return c
}

// secondaryEntry is where secondary cores go once their MMU is on. They
// serve their run queue forever.
func (k *Kernel) secondaryEntry(id int) {
	k.initCPU(id).Idle()
}

// cpuOf returns the kernel state of a ring0 core.
func (k *Kernel) cpuOf(c *ring0.CPU) *CPU {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cpus[c.ID()]
}
