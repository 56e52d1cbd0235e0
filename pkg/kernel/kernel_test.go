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

package kernel_test

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	goerrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/abi/linux"
	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/kernel"
	"thcore.dev/thcore/pkg/platform/emulated"
)

const textBase = 0x400000

// console is a Console safe to write from the cores.
type console struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *console) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

type testKernel struct {
	*kernel.Kernel
	board   *emulated.Board
	console *console
}

func newTestKernel(t *testing.T, ncpu int, slice time.Duration) *testKernel {
	t.Helper()
	conf := config.Default()
	conf.Platform.CPUs = ncpu
	b := emulated.NewBoard(ncpu)
	t.Cleanup(b.Stop)
	out := &console{}
	k, err := kernel.New(conf, b, kernel.Opts{Console: out, TimeSlice: slice})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	return &testKernel{Kernel: k, board: b, console: out}
}

// buildELF returns a static executable with one text page at textBase.
func buildELF(t *testing.T) []byte {
	t.Helper()
	const phoff = 64
	text := []byte("text")
	phdr := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    phoff + 56,
		Vaddr:  textBase,
		Paddr:  textBase,
		Filesz: uint64(len(text)),
		Memsz:  hostarch.PageSize,
		Align:  hostarch.PageSize,
	}
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_LOONGARCH),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     textBase,
		Phoff:     phoff,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if err := binary.Write(&out, binary.LittleEndian, &phdr); err != nil {
		t.Fatalf("writing program header: %v", err)
	}
	out.Write(text)
	return out.Bytes()
}

// scratch returns a stack address below the initial stack pointer.
func scratch(u *emulated.UserThread) hostarch.Addr {
	return hostarch.Addr(u.Registers().Stack()) - 0x200
}

// say writes s to standard output the way a C program would.
func say(u *emulated.UserThread, s string) uintptr {
	buf := scratch(u)
	u.Write(buf, []byte(s))
	return u.Syscall(linux.SYS_WRITE, 1, uintptr(buf), uintptr(len(s)))
}

// run boots the primary core with main, which should queue tasks, and runs
// them to completion. It returns why the core stopped.
func (k *testKernel) run(t *testing.T, main func(c *kernel.CPU)) string {
	t.Helper()
	k.Boot(func(c *kernel.CPU) {
		main(c)
		c.RunUntilIdle()
	})
	return k.board.Core(0).Wait()
}

func (k *testKernel) exec(t *testing.T, c *kernel.CPU, data []byte, args ...string) *kernel.Task {
	task, err := k.NewUserTask(c, data, kernel.ExecOpts{Filename: "/bin/test", Args: args})
	if err != nil {
		t.Errorf("NewUserTask failed: %v", err)
		return nil
	}
	return task
}

func errno(err error) uintptr {
	return linuxerr.SyscallReturn(err)
}

func TestUserProgram(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		sp := hostarch.Addr(u.Registers().Stack())
		argc := u.Load64(sp)
		argv1 := hostarch.Addr(u.Load64(sp + 16))
		arg := make([]byte, 5)
		u.Read(argv1, arg)
		msg := fmt.Sprintf("argc=%d argv[1]=%s\n", argc, arg)
		if n := say(u, msg); n != uintptr(len(msg)) {
			t.Errorf("write returned %#x, want %d", n, len(msg))
		}
		pid := u.Syscall(linux.SYS_GETPID)
		u.Syscall(linux.SYS_EXIT, pid+40)
		t.Errorf("exit returned")
	})

	data := buildELF(t)
	var task *kernel.Task
	reason := k.run(t, func(c *kernel.CPU) {
		task = k.exec(t, c, data, "hello", "world")
	})
	if reason != "halted" {
		t.Errorf("core stopped with %q, want halted", reason)
	}
	if task == nil {
		t.FailNow()
	}
	if got, want := task.Wait(), int(task.TID())+40; got != want {
		t.Errorf("exit code = %d, want %d", got, want)
	}
	if got, want := k.console.String(), "argc=2 argv[1]=world\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	if n := k.Frames().InUse(); n != 0 {
		t.Errorf("%d frames still in use after exit", n)
	}
	if _, ok := k.Task(task.TID()); ok {
		t.Errorf("task %d still registered after exit", task.TID())
	}
}

func TestSyscallErrors(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	var got []uintptr
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		buf := scratch(u)
		u.Write(buf, []byte("ab"))
		got = append(got,
			u.Syscall(999),
			u.Syscall(linux.SYS_WRITE, 3, uintptr(buf), 2),
			u.Syscall(linux.SYS_WRITE, 1, 0x10, 2),
			u.Syscall(linux.SYS_WRITE, 2, uintptr(buf), 0),
			u.Syscall(linux.SYS_CLOCK_GETTIME, 0, uintptr(buf)),
			u.Syscall(linux.SYS_WRITEV, 1, uintptr(buf), 2000),
		)
		u.Syscall(linux.SYS_EXIT_GROUP, 0)
	})

	data := buildELF(t)
	var task *kernel.Task
	k.run(t, func(c *kernel.CPU) {
		task = k.exec(t, c, data)
	})
	if task == nil {
		t.FailNow()
	}
	task.Wait()
	want := []uintptr{
		errno(linuxerr.ENOSYS),
		errno(linuxerr.EBADF),
		errno(linuxerr.EFAULT),
		0,
		errno(linuxerr.EINVAL),
		errno(linuxerr.EINVAL),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("syscall returns mismatch (-want +got):\n%s", diff)
	}
	if out := k.console.String(); out != "" {
		t.Errorf("console = %q, want nothing", out)
	}
}

func TestWritevAndClock(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		base := scratch(u)
		u.Write(base, []byte("hello, "))
		u.Write(base+0x10, []byte("world\n"))
		iov := base + 0x40
		u.Store64(iov, uint64(base))
		u.Store64(iov+8, 7)
		u.Store64(iov+16, uint64(base+0x10))
		u.Store64(iov+24, 6)
		if n := u.Syscall(linux.SYS_WRITEV, 1, uintptr(iov), 2); n != 13 {
			t.Errorf("writev returned %#x, want 13", n)
		}

		u.Core().Board().Advance(250_000_000)
		ts := base + 0x80
		if ret := u.Syscall(linux.SYS_CLOCK_GETTIME, 1, uintptr(ts)); ret != 0 {
			t.Errorf("clock_gettime returned %#x", ret)
		}
		sec, nsec := u.Load64(ts), u.Load64(ts+8)
		if sec != 2 || nsec != 500_000_000 {
			t.Errorf("clock_gettime = %d.%09d, want 2.500000000", sec, nsec)
		}
		u.Syscall(linux.SYS_EXIT, 0)
	})

	data := buildELF(t)
	var task *kernel.Task
	k.run(t, func(c *kernel.CPU) {
		task = k.exec(t, c, data)
	})
	if task == nil {
		t.FailNow()
	}
	task.Wait()
	if got, want := k.console.String(), "hello, world\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestYield(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		pid := u.Syscall(linux.SYS_GETPID)
		for i := 0; i < 2; i++ {
			say(u, fmt.Sprintf("%d%c ", pid, 'a'+i))
			u.Syscall(linux.SYS_SCHED_YIELD)
		}
		u.Syscall(linux.SYS_EXIT, 0)
	})

	data := buildELF(t)
	k.run(t, func(c *kernel.CPU) {
		k.exec(t, c, data)
		k.exec(t, c, data)
	})
	if got, want := k.console.String(), "1a 2a 1b 2b "; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestDemandPaging(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		addr := hostarch.Addr(u.Registers().Stack()) - 0x8000
		u.Store64(addr, 0xfeedface)
		if got := u.Load64(addr); got != 0xfeedface {
			u.Syscall(linux.SYS_EXIT, 1)
		}
		u.Syscall(linux.SYS_EXIT, 0)
	})

	data := buildELF(t)
	var task *kernel.Task
	var populated int
	k.run(t, func(c *kernel.CPU) {
		task = k.exec(t, c, data)
		if task != nil {
			populated = task.MM().Populated()
		}
	})
	if task == nil {
		t.FailNow()
	}
	if code := task.Wait(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if populated == 0 {
		t.Errorf("no pages populated by loading")
	}
}

func TestUserFaultHaltsCore(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		u.Load64(0x10)
		t.Errorf("load from unmapped address returned")
	})

	data := buildELF(t)
	var task *kernel.Task
	reason := k.run(t, func(c *kernel.CPU) {
		task = k.exec(t, c, data)
	})
	if reason != "halted" {
		t.Errorf("core stopped with %q, want halted", reason)
	}
	if task == nil {
		t.FailNow()
	}
	select {
	case <-task.Exited():
		t.Errorf("faulting task exited")
	default:
	}
}

func TestTimeSlice(t *testing.T) {
	const slice = time.Millisecond
	k := newTestKernel(t, 1, slice)
	ticks := k.Config().Devices.TimerFrequency / uint64(time.Second/slice)
	k.board.RegisterProgram(textBase, func(u *emulated.UserThread) {
		pid := u.Syscall(linux.SYS_GETPID)
		sp := hostarch.Addr(u.Registers().Stack())
		for i := 0; i < 3; i++ {
			say(u, fmt.Sprint(pid))
			// Spin past the end of the slice; the next instruction
			// takes the timer interrupt.
			u.Core().Board().Advance(2 * ticks)
			u.Load64(sp)
		}
		u.Syscall(linux.SYS_EXIT, 0)
	})

	data := buildELF(t)
	k.run(t, func(c *kernel.CPU) {
		k.exec(t, c, data)
		k.exec(t, c, data)
	})
	if got, want := k.console.String(), "121212"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	if got := k.TimerTicks(); got != 6 {
		t.Errorf("TimerTicks = %d, want 6", got)
	}
}

func TestKernelTasks(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	var order []string
	k.run(t, func(c *kernel.CPU) {
		for _, name := range []string{"a", "b"} {
			k.NewKernelTask(c, func(task *kernel.Task) {
				for i := 1; i <= 2; i++ {
					order = append(order, fmt.Sprintf("%s%d", name, i))
					task.Yield()
				}
			})
		}
	})
	if diff := cmp.Diff([]string{"a1", "b1", "a2", "b2"}, order); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
}

func TestStartSecondaries(t *testing.T) {
	k := newTestKernel(t, 2, 0)
	ran := make(chan int, 1)
	k.Boot(func(c *kernel.CPU) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := k.StartSecondaries(ctx); err != nil {
			t.Errorf("StartSecondaries failed: %v", err)
			return
		}
		task := k.NewKernelTask(k.CPU(1), func(task *kernel.Task) {
			ran <- task.CPU().ID()
		})
		task.Wait()
	})
	if reason := k.board.Core(0).Wait(); reason != "halted" {
		t.Errorf("CPU 0 stopped with %q, want halted", reason)
	}
	select {
	case id := <-ran:
		if id != 1 {
			t.Errorf("task ran on CPU %d, want 1", id)
		}
	default:
		t.Fatalf("task on CPU 1 never ran")
	}
	if halted, reason := k.board.Core(1).Halted(); halted {
		t.Errorf("CPU 1 stopped with %q, want idle", reason)
	}
}

func TestNewUserTaskLoadError(t *testing.T) {
	k := newTestKernel(t, 1, 0)
	var err error
	k.run(t, func(c *kernel.CPU) {
		_, err = k.NewUserTask(c, []byte("garbage"), kernel.ExecOpts{Filename: "/bin/garbage"})
	})
	if !goerrors.Is(err, linuxerr.ENOEXEC) {
		t.Errorf("NewUserTask error = %v, want ENOEXEC", err)
	}
	if n := k.Frames().InUse(); n != 0 {
		t.Errorf("%d frames leaked", n)
	}
}

func TestNewErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*config.Config)
	}{
		{"too many CPUs", func(c *config.Config) { c.Platform.CPUs = 2 }},
		{"timer line", func(c *config.Config) { c.Devices.TimerIRQ = 3 }},
		{"invalid", func(c *config.Config) { c.Devices.TimerFrequency = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := config.Default()
			tc.modify(conf)
			if _, err := kernel.New(conf, emulated.NewBoard(1), kernel.Opts{}); err == nil {
				t.Errorf("kernel.New succeeded")
			}
		})
	}
}
