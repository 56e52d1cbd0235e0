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

//go:build loong64

package ring0

import (
	"sync"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/log"
)

// NativeMachine is the Machine of the core executing the caller. It is only
// usable at privilege level 0 in the bare-metal runtime.
type NativeMachine struct{}

var _ Machine = NativeMachine{}

// ReadCSR implements Machine.ReadCSR.
func (NativeMachine) ReadCSR(csr uint16) uint64 { return readCSR(csr) }

// WriteCSR implements Machine.WriteCSR.
func (NativeMachine) WriteCSR(csr uint16, val uint64) { writeCSR(csr, val) }

// ReadTime implements Machine.ReadTime.
func (NativeMachine) ReadTime() uint64 { return readTime() }

// ThreadPointer implements Machine.ThreadPointer.
func (NativeMachine) ThreadPointer() uint64 { return threadPointer() }

// SetThreadPointer implements Machine.SetThreadPointer.
func (NativeMachine) SetThreadPointer(tp uint64) { setThreadPointer(tp) }

// InvalidateTLB implements Machine.InvalidateTLB.
func (NativeMachine) InvalidateTLB(op uint8, addr uintptr) {
	switch op {
	case InvalidateAll:
		invalidateAll()
	case InvalidateAddr:
		invalidateAddr(addr)
	default:
		panic("unsupported invtlb op")
	}
}

// ContextSwitch implements Machine.ContextSwitch.
func (NativeMachine) ContextSwitch(cur, next *arch.TaskContext) { contextSwitch(cur, next) }

// ReturnToUser implements Machine.ReturnToUser.
func (NativeMachine) ReturnToUser(frame *arch.Registers) { returnToUser(frame) }

var (
	taskEntriesMu sync.Mutex
	taskEntries   []func()
)

// KernelEntry implements Machine.KernelEntry. The argument is an index into
// the registered entries.
func (NativeMachine) KernelEntry(fn func()) (entry, arg uint64) {
	taskEntriesMu.Lock()
	defer taskEntriesMu.Unlock()
	taskEntries = append(taskEntries, fn)
	return uint64(addrOfTaskEntry()), uint64(len(taskEntries) - 1)
}

// runTaskEntry is called by taskEntry with the argument from s0.
//
//go:nosplit
func runTaskEntry(idx uint64) {
	taskEntriesMu.Lock()
	fn := taskEntries[idx]
	taskEntriesMu.Unlock()
	fn()
	log.Warningf("kernel task %d returned", idx)
	NativeMachine{}.Halt()
}

var trapHandlers [MaxCPUs]TrapHandler

// SetTrapHandler implements Machine.SetTrapHandler.
func (NativeMachine) SetTrapHandler(h TrapHandler) {
	trapHandlers[readCSR(arch.CSR_CPUID)] = h
}

// trapFromVector is called by trapEntry with the saved frame.
//
//go:nosplit
func trapFromVector(frame *arch.Registers) {
	h := trapHandlers[readCSR(arch.CSR_CPUID)]
	h.Trap(frame, frame.Prmd&arch.PRMD_PPLV_MASK != 0)
}

// NativeTrapEntry returns the address the trap vector must jump to.
func NativeTrapEntry() uint64 {
	return uint64(addrOfTrapEntry())
}

// WaitForInterrupt implements Machine.WaitForInterrupt.
func (NativeMachine) WaitForInterrupt() { idle() }

// Halt implements Machine.Halt.
func (NativeMachine) Halt() {
	writeCSR(arch.CSR_CRMD, readCSR(arch.CSR_CRMD)&^arch.CRMD_IE)
	for {
		idle()
	}
}

// Implemented in machine_loong64.s.
func readCSR(csr uint16) uint64
func writeCSR(csr uint16, val uint64)
func readTime() uint64
func threadPointer() uint64
func setThreadPointer(tp uint64)
func invalidateAll()
func invalidateAddr(addr uintptr)
func idle()
func contextSwitch(cur, next *arch.TaskContext)
func returnToUser(frame *arch.Registers)
func addrOfTaskEntry() uintptr
func taskEntry()
func addrOfTrapEntry() uintptr
func trapEntry()
