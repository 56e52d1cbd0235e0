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

import "fmt"

// General purpose register numbers used by generated code.
const (
	regZero = 0
	regRA   = 1
	regT0   = 12
)

// Instruction opcodes.
const (
	opCSR    = 0x04000000
	opLU12IW = 0x14000000
	opLU32ID = 0x16000000
	opLU52ID = 0x03000000
	opORI    = 0x03800000
	opANDI   = 0x03400000
	opJIRL   = 0x4c000000
	opLDDIR  = 0x06400000
	opLDPTE  = 0x06440000
	opINVTLB = 0x06498000
	opDBAR   = 0x38720000

	insnERTN    = 0x06483800
	insnTLBFILL = 0x06483400
	insnIDLE    = 0x06488000
	insnNOP     = opANDI
)

// csrrd reads csr into rd.
func csrrd(rd, csr uint32) uint32 {
	return opCSR | (csr&0x3fff)<<10 | 0<<5 | rd&0x1f
}

// csrwr swaps rd with csr.
func csrwr(rd, csr uint32) uint32 {
	return opCSR | (csr&0x3fff)<<10 | 1<<5 | rd&0x1f
}

func lu12iw(rd uint32, si20 uint32) uint32 {
	return opLU12IW | (si20&0xfffff)<<5 | rd&0x1f
}

func lu32id(rd uint32, si20 uint32) uint32 {
	return opLU32ID | (si20&0xfffff)<<5 | rd&0x1f
}

func lu52id(rd, rj uint32, si12 uint32) uint32 {
	return opLU52ID | (si12&0xfff)<<10 | (rj&0x1f)<<5 | rd&0x1f
}

func ori(rd, rj uint32, ui12 uint32) uint32 {
	return opORI | (ui12&0xfff)<<10 | (rj&0x1f)<<5 | rd&0x1f
}

// jirl jumps to rj + offs*4, linking into rd.
func jirl(rd, rj uint32, offs int32) uint32 {
	return opJIRL | (uint32(offs)&0xffff)<<10 | (rj&0x1f)<<5 | rd&0x1f
}

func lddir(rd, rj, level uint32) uint32 {
	return opLDDIR | (level&0xff)<<10 | (rj&0x1f)<<5 | rd&0x1f
}

func ldpte(rj, seq uint32) uint32 {
	return opLDPTE | (seq&0xff)<<10 | (rj&0x1f)<<5
}

func invtlb(op, rj, rk uint32) uint32 {
	return opINVTLB | (rk&0x1f)<<10 | (rj&0x1f)<<5 | op&0x1f
}

func dbar(hint uint32) uint32 {
	return opDBAR | hint&0x7fff
}

// lid loads a 64-bit immediate into rd in four instructions.
func lid(rd uint32, imm uint64) [4]uint32 {
	return [4]uint32{
		lu12iw(rd, uint32(imm>>12)),
		ori(rd, rd, uint32(imm)),
		lu32id(rd, uint32(imm>>32)),
		lu52id(rd, rd, uint32(imm>>52)),
	}
}

// Insn is a decoded instruction, restricted to the forms emitted here.
type Insn struct {
	Op  string
	Rd  uint32
	Rj  uint32
	Rk  uint32
	Imm uint64
}

// String implements fmt.Stringer.String.
func (i Insn) String() string {
	switch i.Op {
	case "ertn", "tlbfill", "idle", "nop":
		return i.Op
	case "csrrd", "csrwr":
		return fmt.Sprintf("%s r%d, %#x", i.Op, i.Rd, i.Imm)
	case "lu12i.w", "lu32i.d":
		return fmt.Sprintf("%s r%d, %#x", i.Op, i.Rd, i.Imm)
	case "ori", "lu52i.d", "jirl", "lddir":
		return fmt.Sprintf("%s r%d, r%d, %#x", i.Op, i.Rd, i.Rj, i.Imm)
	case "ldpte":
		return fmt.Sprintf("%s r%d, %#x", i.Op, i.Rj, i.Imm)
	case "invtlb":
		return fmt.Sprintf("%s %#x, r%d, r%d", i.Op, i.Imm, i.Rj, i.Rk)
	case "dbar":
		return fmt.Sprintf("%s %#x", i.Op, i.Imm)
	default:
		return fmt.Sprintf(".word %#08x", i.Imm)
	}
}

// Decode decodes an instruction emitted by this package. Other encodings
// decode as a raw word with ok false.
func Decode(w uint32) (Insn, bool) {
	rd, rj, rk := w&0x1f, (w>>5)&0x1f, (w>>10)&0x1f
	switch {
	case w == insnERTN:
		return Insn{Op: "ertn"}, true
	case w == insnTLBFILL:
		return Insn{Op: "tlbfill"}, true
	case w == insnIDLE:
		return Insn{Op: "idle"}, true
	case w == insnNOP:
		return Insn{Op: "nop"}, true
	case w&0xff000000 == opCSR:
		csr := uint64(w>>10) & 0x3fff
		switch rj {
		case 0:
			return Insn{Op: "csrrd", Rd: rd, Imm: csr}, true
		case 1:
			return Insn{Op: "csrwr", Rd: rd, Imm: csr}, true
		}
	case w&0xfe000000 == opLU12IW:
		return Insn{Op: "lu12i.w", Rd: rd, Imm: uint64(w>>5) & 0xfffff}, true
	case w&0xfe000000 == opLU32ID:
		return Insn{Op: "lu32i.d", Rd: rd, Imm: uint64(w>>5) & 0xfffff}, true
	case w&0xffc00000 == opLU52ID:
		return Insn{Op: "lu52i.d", Rd: rd, Rj: rj, Imm: uint64(w>>10) & 0xfff}, true
	case w&0xffc00000 == opORI:
		return Insn{Op: "ori", Rd: rd, Rj: rj, Imm: uint64(w>>10) & 0xfff}, true
	case w&0xfc000000 == opJIRL:
		return Insn{Op: "jirl", Rd: rd, Rj: rj, Imm: uint64(w>>10) & 0xffff}, true
	case w&0xfffc0000 == opLDDIR:
		return Insn{Op: "lddir", Rd: rd, Rj: rj, Imm: uint64(w>>10) & 0xff}, true
	case w&0xfffc0000 == opLDPTE && rd == 0:
		return Insn{Op: "ldpte", Rj: rj, Imm: uint64(w>>10) & 0xff}, true
	case w&0xffff8000 == opINVTLB:
		return Insn{Op: "invtlb", Rj: rj, Rk: rk, Imm: uint64(rd)}, true
	case w&0xffff8000 == opDBAR:
		return Insn{Op: "dbar", Imm: uint64(w & 0x7fff)}, true
	}
	return Insn{Imm: uint64(w)}, false
}

// Disassemble renders code one instruction per line.
func Disassemble(code []uint32) []string {
	out := make([]string, len(code))
	for i, w := range code {
		insn, _ := Decode(w)
		out[i] = insn.String()
	}
	return out
}
