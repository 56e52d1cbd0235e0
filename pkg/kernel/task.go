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

package kernel

import (
	"fmt"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/loader"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/mm"
)

var _ loader.Mapper = (*mm.AddressSpace)(nil)

// Task is a schedulable thread of execution. A kernel task runs a Go
// function; a user task runs a loaded program in its own address space.
type Task struct {
	k   *Kernel
	tid int32
	cpu *CPU

	ctx arch.TaskContext
	uc  arch.UserContext

	// mm is the address space of a user task, nil for kernel tasks.
	mm *mm.AddressSpace

	// prog is the loaded program of a user task.
	prog *loader.Program

	kstack    []byte
	kstackTop uintptr

	exitCode int
	exited   chan struct{}
}

// TID returns the task ID.
func (t *Task) TID() int32 {
	return t.tid
}

// CPU returns the core the task runs on.
func (t *Task) CPU() *CPU {
	return t.cpu
}

// MM returns the address space of a user task.
func (t *Task) MM() *mm.AddressSpace {
	return t.mm
}

// Program returns the program a user task was started with.
func (t *Task) Program() *loader.Program {
	return t.prog
}

// Exited returns a channel closed when the task exits.
func (t *Task) Exited() <-chan struct{} {
	return t.exited
}

// ExitCode returns the exit status.
//
// Preconditions: the task has exited.
func (t *Task) ExitCode() int {
	return t.exitCode
}

// Wait blocks until the task exits and returns its status.
func (t *Task) Wait() int {
	<-t.exited
	return t.exitCode
}

// Yield lets other tasks on the core run.
func (t *Task) Yield() {
	t.cpu.yield()
}

// Exit ends the task. It does not return.
func (t *Task) Exit(code int) {
	t.exit(code)
}

func (k *Kernel) newTask(c *CPU, as *mm.AddressSpace) *Task {
	k.mu.Lock()
	tid := k.nextTID
	k.nextTID++
	k.mu.Unlock()
	t := &Task{
		k:      k,
		tid:    tid,
		cpu:    c,
		mm:     as,
		kstack: make([]byte, k.conf.Platform.KernelStackSize),
		exited: make(chan struct{}),
	}
	t.kstackTop = stackTop(t.kstack)
	return t
}

// start prepares the task to run fn on its kernel stack and queues it.
func (t *Task) start(fn func()) {
	entry, arg := t.cpu.Machine().KernelEntry(fn)
	t.ctx.Init(uintptr(entry), t.kstackTop, 0)
	t.ctx.SetEntryArg(arg)
	if t.mm != nil {
		t.ctx.SetPageTableRoot(t.mm.Root())
	}
	t.k.mu.Lock()
	t.k.tasks[t.tid] = t
	t.k.mu.Unlock()
	t.cpu.enqueue(t)
	t.k.platform.Kick(t.cpu.ID())
}

// NewKernelTask queues a task running fn on c. The task exits with status 0
// when fn returns.
func (k *Kernel) NewKernelTask(c *CPU, fn func(t *Task)) *Task {
	t := k.newTask(c, nil)
	t.start(func() {
		fn(t)
		t.exit(0)
	})
	log.Debugf("Task %d: kernel task queued on CPU %d", t.tid, c.ID())
	return t
}

// ExecOpts describe the program a user task runs.
type ExecOpts struct {
	// Filename is the path the program was read from.
	Filename string

	// Args and Envs are the argument and environment vectors.
	Args []string
	Envs []string

	// Open reads interpreters and interpreter script targets. If nil,
	// they are read from the host.
	Open func(path string) ([]byte, error)
}

// NewUserTask loads the program in data into a new address space and queues
// a task on c that enters it.
func (k *Kernel) NewUserTask(c *CPU, data []byte, opts ExecOpts) (*Task, error) {
	as := mm.New(k.frames)
	open := opts.Open
	if open == nil {
		open = loader.ReadFile
	}
	prog, err := loader.Load(as, data, loader.LoadOpts{
		Filename:   opts.Filename,
		Args:       opts.Args,
		Envs:       opts.Envs,
		UserBase:   hostarch.Addr(k.conf.User.SpaceBase),
		InterpBase: hostarch.Addr(k.conf.User.InterpBase),
		StackBase:  k.conf.UserStackBase(),
		StackSize:  uint64(k.conf.User.StackSize),
		Open:       open,
	})
	if err != nil {
		as.Release()
		return nil, fmt.Errorf("loading %q: %w", opts.Filename, err)
	}
	k.platform.AttachAddressSpace(as)
	t := k.newTask(c, as)
	t.prog = prog
	t.uc = arch.NewUserContext(uintptr(prog.Entry), uintptr(prog.Stack), 0)
	t.start(func() {
		t.cpu.EnterUser(&t.uc, t.kstackTop)
	})
	log.Infof("Task %d: %q entry %#x sp %#x on CPU %d", t.tid, opts.Filename, prog.Entry, prog.Stack, c.ID())
	return t, nil
}

// exit releases the task and switches away from it for good.
func (t *Task) exit(code int) {
	c := t.cpu
	if c.current != t {
		panic(fmt.Sprintf("task %d exiting while not running", t.tid))
	}
	t.exitCode = code
	if t.mm != nil {
		t.k.platform.DetachAddressSpace(t.mm)
		t.mm.Release()
	}
	t.k.mu.Lock()
	delete(t.k.tasks, t.tid)
	t.k.mu.Unlock()
	log.Debugf("Task %d: exited with status %d", t.tid, code)
	close(t.exited)
	c.switchTo(t, c.dequeue())
	panic(fmt.Sprintf("exited task %d resumed", t.tid))
}

// Task returns the live task with the given ID.
func (k *Kernel) Task(tid int32) (*Task, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[tid]
	return t, ok
}
