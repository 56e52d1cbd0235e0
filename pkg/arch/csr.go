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

package arch

import "fmt"

// Control and status register numbers.
const (
	CSR_CRMD      = 0x0
	CSR_PRMD      = 0x1
	CSR_EUEN      = 0x2
	CSR_ECFG      = 0x4
	CSR_ESTAT     = 0x5
	CSR_ERA       = 0x6
	CSR_BADV      = 0x7
	CSR_EENTRY    = 0xc
	CSR_TLBIDX    = 0x10
	CSR_TLBEHI    = 0x11
	CSR_ASID      = 0x18
	CSR_PGDL      = 0x19
	CSR_PGDH      = 0x1a
	CSR_PGD       = 0x1b
	CSR_PWCL      = 0x1c
	CSR_PWCH      = 0x1d
	CSR_STLBPS    = 0x1e
	CSR_CPUID     = 0x20
	CSR_KSAVE_KSP = 0x30
	CSR_KSAVE_T0  = 0x31
	CSR_KSAVE_USP = 0x32
	CSR_KSAVE_G   = 0x33
	CSR_KSAVE_TP  = 0x34
	CSR_TCFG      = 0x41
	CSR_TVAL      = 0x42
	CSR_TICLR     = 0x44
	CSR_TLBRENTRY = 0x88
	CSR_TLBRSAVE  = 0x8b
	CSR_TLBREHI   = 0x8e
	CSR_DMW0      = 0x180
	CSR_DMW1      = 0x181

	// NumCSR bounds the CSR address space.
	NumCSR = 0x4000
)

// CRMD bits.
const (
	CRMD_PLV_MASK = 0x3
	CRMD_IE       = 1 << 2
	CRMD_DA       = 1 << 3
	CRMD_PG       = 1 << 4
	CRMD_DATF_CC  = 1 << 5
	CRMD_DATM_CC  = 1 << 7

	// CRMD_KERNEL is privilege level 0 with paging enabled, interrupts
	// disabled and cached accesses in direct-translation mode.
	CRMD_KERNEL = CRMD_PG | CRMD_DATF_CC | CRMD_DATM_CC
)

// PRMD bits.
const (
	PRMD_PPLV_MASK = 0x3
	PRMD_PPLV_USER = 0x3
	PRMD_PIE       = 1 << 2

	// PRMD_USER is the pre-exception mode for returning to user mode with
	// interrupts enabled.
	PRMD_USER = PRMD_PPLV_USER | PRMD_PIE
)

// ECFG bits.
const (
	ECFG_LIE_MASK = 0x1fff
	ECFG_VS_SHIFT = 16
	ECFG_VS_MASK  = 0x7 << ECFG_VS_SHIFT
)

// ESTAT layout.
const (
	ESTAT_IS_MASK        = 0x1fff
	ESTAT_ECODE_SHIFT    = 16
	ESTAT_ECODE_MASK     = 0x3f << ESTAT_ECODE_SHIFT
	ESTAT_ESUBCODE_SHIFT = 22
	ESTAT_ESUBCODE_MASK  = 0x1ff << ESTAT_ESUBCODE_SHIFT
)

// TCFG bits. The initial value occupies the bits above Periodic, so it is
// always a multiple of 4.
const (
	TCFG_EN        = 1 << 0
	TCFG_PERIODIC  = 1 << 1
	TCFG_INIT_MASK = ^uint64(0x3)
)

// TICLR_CLR acknowledges the timer interrupt.
const TICLR_CLR = 1

// Direct mapped window bits.
const (
	DMW_PLV0       = 1 << 0
	DMW_PLV3       = 1 << 3
	DMW_MAT_SHIFT  = 4
	DMW_VSEG_SHIFT = 60
)

// Page size fields.
const (
	// PS_4K is the page size encoding for 4K pages.
	PS_4K = 0x0c

	TLBIDX_PS_SHIFT = 24
	TLBIDX_PS_MASK  = 0x3f << TLBIDX_PS_SHIFT
	STLBPS_PS_MASK  = 0x3f
	TLBREHI_PS_MASK = 0x3f
)

// Ecode is an exception code, as reported in ESTAT.
type Ecode uint32

// Exception codes.
const (
	EcodeINT  Ecode = 0x0
	EcodePIL  Ecode = 0x1
	EcodePIS  Ecode = 0x2
	EcodePIF  Ecode = 0x3
	EcodePME  Ecode = 0x4
	EcodePNR  Ecode = 0x5
	EcodePNX  Ecode = 0x6
	EcodePPI  Ecode = 0x7
	EcodeADE  Ecode = 0x8
	EcodeALE  Ecode = 0x9
	EcodeBCE  Ecode = 0xa
	EcodeSYS  Ecode = 0xb
	EcodeBRK  Ecode = 0xc
	EcodeINE  Ecode = 0xd
	EcodeIPE  Ecode = 0xe
	EcodeFPD  Ecode = 0xf
	EcodeSXD  Ecode = 0x10
	EcodeASXD Ecode = 0x11
	EcodeFPE  Ecode = 0x12
	EcodeWPE  Ecode = 0x13
	EcodeBTD  Ecode = 0x14
	EcodeBTE  Ecode = 0x15
	EcodeGSPR Ecode = 0x16
	EcodeHVC  Ecode = 0x17
	EcodeGCM  Ecode = 0x18
)

var ecodeNames = map[Ecode]string{
	EcodeINT:  "Interrupt",
	EcodePIL:  "PageInvalidLoad",
	EcodePIS:  "PageInvalidStore",
	EcodePIF:  "PageInvalidFetch",
	EcodePME:  "PageModifyFault",
	EcodePNR:  "PageNonReadableFault",
	EcodePNX:  "PageNonExecutableFault",
	EcodePPI:  "PagePrivilegeIllegal",
	EcodeADE:  "AddressError",
	EcodeALE:  "AddressNotAligned",
	EcodeBCE:  "BoundsCheckFault",
	EcodeSYS:  "Syscall",
	EcodeBRK:  "Breakpoint",
	EcodeINE:  "InstructionNotExist",
	EcodeIPE:  "InstructionPrivilegeError",
	EcodeFPD:  "FloatingPointUnavailable",
	EcodeSXD:  "SIMDUnavailable",
	EcodeASXD: "AdvancedSIMDUnavailable",
	EcodeFPE:  "FloatingPointError",
	EcodeWPE:  "WatchPoint",
	EcodeBTD:  "BinaryTranslationUnavailable",
	EcodeBTE:  "BinaryTranslationException",
	EcodeGSPR: "GuestSensitivePrivilegedResource",
	EcodeHVC:  "Hypercall",
	EcodeGCM:  "GuestCSRModified",
}

// String implements fmt.Stringer.String.
func (e Ecode) String() string {
	if s, ok := ecodeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("Ecode(%#x)", uint32(e))
}

// Interrupt lines reported in ESTAT.IS and enabled in ECFG.LIE.
const (
	IRQ_SWI0 = 0
	IRQ_SWI1 = 1
	IRQ_HWI0 = 2
	IRQ_PMC  = 10
	IRQ_TI   = 11
	IRQ_IPI  = 12
)

// Estat is a decoded ESTAT value.
type Estat uint64

// IS returns the pending interrupt status bits.
func (e Estat) IS() uint64 {
	return uint64(e) & ESTAT_IS_MASK
}

// Ecode returns the exception code.
func (e Estat) Ecode() Ecode {
	return Ecode((uint64(e) & ESTAT_ECODE_MASK) >> ESTAT_ECODE_SHIFT)
}

// EsubCode returns the exception sub-code.
func (e Estat) EsubCode() uint32 {
	return uint32((uint64(e) & ESTAT_ESUBCODE_MASK) >> ESTAT_ESUBCODE_SHIFT)
}

// MakeEstat encodes an ESTAT value.
func MakeEstat(code Ecode, subcode uint32, is uint64) Estat {
	return Estat(uint64(code)<<ESTAT_ECODE_SHIFT&ESTAT_ECODE_MASK |
		uint64(subcode)<<ESTAT_ESUBCODE_SHIFT&ESTAT_ESUBCODE_MASK |
		is&ESTAT_IS_MASK)
}
