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

package emulated

import (
	"encoding/binary"
	"fmt"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
)

// maxFaultRetries bounds the faults taken on one access before the core
// gives up on the handler.
const maxFaultRetries = 16

// ReturnToUser implements ring0.Machine.ReturnToUser. It executes ertn into
// the mode in PRMD at the address in ERA, and runs the program registered
// there. A program that returns halts the core.
func (c *Core) ReturnToUser(frame *arch.Registers) {
	c.mu.Lock()
	prmd := c.csrs[arch.CSR_PRMD]
	era := c.csrs[arch.CSR_ERA]
	c.csrs[arch.CSR_CRMD] = c.csrs[arch.CSR_CRMD]&^(arch.CRMD_PLV_MASK|arch.CRMD_IE) |
		prmd&arch.PRMD_PPLV_MASK | prmd&arch.PRMD_PIE
	c.mu.Unlock()

	t := &UserThread{core: c, regs: *frame}
	t.regs.Era = era
	t.regs.Prmd = prmd
	t.access(hostarch.Addr(era), hostarch.Execute)
	p, ok := c.board.program(era)
	if !ok {
		t.trap(arch.EcodeINE, era)
		c.halt(fmt.Sprintf("no user program at %#x", era))
	}
	p(t)
	c.halt(fmt.Sprintf("user program at %#x returned", era))
}

// UserThread is the user-mode view of a core given to a Program. Each
// operation is one instruction: it polls for interrupts, may trap, and
// advances the program counter.
type UserThread struct {
	core *Core
	regs arch.Registers
}

// Registers returns the user registers. Changes are seen by the kernel at
// the next trap.
func (t *UserThread) Registers() *arch.Registers {
	return &t.regs
}

// Core returns the core the thread runs on.
func (t *UserThread) Core() *Core {
	return t.core
}

// step takes pending interrupts before the next instruction.
func (t *UserThread) step() {
	for t.core.deliverable() {
		frame := t.regs
		t.core.takeInterrupt(&frame, true)
		t.regs = frame
	}
}

// trap raises an exception at the current instruction.
func (t *UserThread) trap(code arch.Ecode, badv uint64) {
	frame := t.regs
	t.core.enterTrap(&frame, code, badv, true)
	t.regs = frame
}

// Syscall executes the syscall instruction with the number in a7 and args
// in a0 onwards, and returns a0.
func (t *UserThread) Syscall(sysno uintptr, args ...uintptr) uintptr {
	if len(args) > 6 {
		panic(fmt.Sprintf("%d syscall arguments", len(args)))
	}
	t.step()
	t.regs.Regs[arch.RegA7] = uint64(sysno)
	for i, a := range args {
		t.regs.Regs[arch.RegA0+i] = uint64(a)
	}
	t.trap(arch.EcodeSYS, 0)
	return uintptr(t.regs.Regs[arch.RegA0])
}

// Break executes the break instruction.
func (t *UserThread) Break() {
	t.step()
	t.trap(arch.EcodeBRK, 0)
}

// Raise executes an instruction that raises code.
func (t *UserThread) Raise(code arch.Ecode) {
	t.step()
	t.trap(code, t.regs.Era)
}

// Read loads len(dst) bytes from addr.
func (t *UserThread) Read(addr hostarch.Addr, dst []byte) {
	t.step()
	t.copy(addr, dst, hostarch.Read)
	t.regs.AdvancePC()
}

// Write stores src at addr.
func (t *UserThread) Write(addr hostarch.Addr, src []byte) {
	t.step()
	t.copy(addr, src, hostarch.Write)
	t.regs.AdvancePC()
}

// Load64 loads a 64-bit word.
func (t *UserThread) Load64(addr hostarch.Addr) uint64 {
	var b [8]byte
	t.Read(addr, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Store64 stores a 64-bit word.
func (t *UserThread) Store64(addr hostarch.Addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	t.Write(addr, b[:])
}

// copy moves buf to or from user memory a page at a time, faulting each
// page in first.
func (t *UserThread) copy(addr hostarch.Addr, buf []byte, access hostarch.MappingFlags) {
	for done := 0; done < len(buf); {
		cur := addr + hostarch.Addr(done)
		n := int(hostarch.PageSize - cur.PageOffset())
		if n > len(buf)-done {
			n = len(buf) - done
		}
		as := t.access(cur, access)
		var err error
		if access == hostarch.Write {
			_, err = as.CopyOut(cur, buf[done:done+n])
		} else {
			_, err = as.CopyIn(cur, buf[done:done+n])
		}
		if err != nil {
			t.core.halt(fmt.Sprintf("copy at %v after translation: %v", cur, err))
		}
		done += n
	}
}

// access checks a user access to addr, taking page faults until the tables
// permit it, and returns the address space it resolved in.
func (t *UserThread) access(addr hostarch.Addr, access hostarch.MappingFlags) AddressSpace {
	for tries := 0; ; tries++ {
		as, code, ok := t.core.translate(addr, access)
		if ok {
			return as
		}
		if tries == maxFaultRetries {
			t.core.halt(fmt.Sprintf("%v at %v not resolved after %d faults", code, addr, tries))
		}
		t.trap(code, uint64(addr))
	}
}

// translate checks a user access against the tables rooted at PGDL and
// returns the exception it raises.
func (c *Core) translate(addr hostarch.Addr, access hostarch.MappingFlags) (AddressSpace, arch.Ecode, bool) {
	as, ok := c.board.space(uintptr(c.ReadCSR(arch.CSR_PGDL)))
	if !ok {
		return nil, notPresent(access), false
	}
	_, flags, ok := as.Translate(addr)
	switch {
	case !ok:
		return nil, notPresent(access), false
	case !flags.Any(hostarch.User):
		return nil, arch.EcodePPI, false
	case access.Any(hostarch.Write) && !flags.Any(hostarch.Write):
		return nil, arch.EcodePME, false
	case access.Any(hostarch.Read) && !flags.Any(hostarch.Read):
		return nil, arch.EcodePNR, false
	case access.Any(hostarch.Execute) && !flags.Any(hostarch.Execute):
		return nil, arch.EcodePNX, false
	}
	return as, 0, true
}

func notPresent(access hostarch.MappingFlags) arch.Ecode {
	switch {
	case access.Any(hostarch.Write):
		return arch.EcodePIS
	case access.Any(hostarch.Execute):
		return arch.EcodePIF
	default:
		return arch.EcodePIL
	}
}
