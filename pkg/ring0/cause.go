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

package ring0

import (
	"fmt"
	"math/bits"

	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/hostarch"
)

// Cause is the decoded reason for a trap.
type Cause int

// Trap causes. Every ESTAT value decodes to exactly one of these.
const (
	// CauseUnknown is any exception the dispatcher does not handle.
	CauseUnknown Cause = iota

	// CauseInterrupt is an asynchronous interrupt.
	CauseInterrupt

	// CauseSyscall is the syscall instruction.
	CauseSyscall

	// CauseBreakpoint is the break instruction.
	CauseBreakpoint

	// CausePageFault is any of the page invalid or page permission
	// exceptions.
	CausePageFault
)

var causeNames = [...]string{
	CauseUnknown:    "Unknown",
	CauseInterrupt:  "Interrupt",
	CauseSyscall:    "Syscall",
	CauseBreakpoint: "Breakpoint",
	CausePageFault:  "PageFault",
}

// String implements fmt.Stringer.String.
func (c Cause) String() string {
	if c >= 0 && int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// TrapInfo is a decoded ESTAT value.
type TrapInfo struct {
	Cause Cause

	// Ecode is the raw exception code.
	Ecode arch.Ecode

	// Access is the access that faulted, for CausePageFault.
	Access hostarch.MappingFlags

	// IRQ is the lowest pending interrupt line, for CauseInterrupt, or -1
	// if no line is pending.
	IRQ int
}

// String implements fmt.Stringer.String.
func (t TrapInfo) String() string {
	switch t.Cause {
	case CausePageFault:
		return fmt.Sprintf("%v(%v, %v)", t.Cause, t.Ecode, t.Access)
	case CauseInterrupt:
		return fmt.Sprintf("%v(irq %d)", t.Cause, t.IRQ)
	default:
		return fmt.Sprintf("%v(%v)", t.Cause, t.Ecode)
	}
}

// faultAccess maps page fault exception codes to the access they report.
// PPI is absent: a privilege violation is never resolvable.
var faultAccess = map[arch.Ecode]hostarch.MappingFlags{
	arch.EcodePIL: hostarch.Read,
	arch.EcodePIS: hostarch.Write,
	arch.EcodePIF: hostarch.Execute,
	arch.EcodePME: hostarch.Write,
	arch.EcodePNR: hostarch.Read,
	arch.EcodePNX: hostarch.Execute,
}

// DecodeTrap decodes an ESTAT value.
func DecodeTrap(estat arch.Estat) TrapInfo {
	t := TrapInfo{Ecode: estat.Ecode(), IRQ: -1}
	switch t.Ecode {
	case arch.EcodeINT:
		t.Cause = CauseInterrupt
		if is := estat.IS(); is != 0 {
			t.IRQ = bits.TrailingZeros64(is)
		}
	case arch.EcodeSYS:
		t.Cause = CauseSyscall
	case arch.EcodeBRK:
		t.Cause = CauseBreakpoint
	default:
		if access, ok := faultAccess[t.Ecode]; ok {
			t.Cause = CausePageFault
			t.Access = access
		} else {
			t.Cause = CauseUnknown
		}
	}
	return t
}
