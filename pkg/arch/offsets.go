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

import (
	"fmt"
	"io"
	"reflect"
)

func offset(base, field any) uintptr {
	return reflect.ValueOf(field).Pointer() - reflect.ValueOf(base).Pointer()
}

// EmitOffsets prints the register frame and task context offsets as
// assembler definitions.
func EmitOffsets(w io.Writer) {
	r := &Registers{}
	fmt.Fprintf(w, "\n// Trap frame offsets.\n")
	for i := range r.Regs {
		fmt.Fprintf(w, "#define FRAME_R%-2d      0x%02x\n", i, offset(r, &r.Regs[i]))
	}
	fmt.Fprintf(w, "#define FRAME_PRMD     0x%02x\n", offset(r, &r.Prmd))
	fmt.Fprintf(w, "#define FRAME_ERA      0x%02x\n", offset(r, &r.Era))
	fmt.Fprintf(w, "#define FRAME_BADV     0x%02x\n", offset(r, &r.Badv))
	fmt.Fprintf(w, "#define FRAME_CRMD     0x%02x\n", offset(r, &r.Crmd))
	fmt.Fprintf(w, "#define FRAME_SIZE     0x%02x\n", reflect.TypeOf(*r).Size())

	t := &TaskContext{}
	fmt.Fprintf(w, "\n// Task context offsets.\n")
	fmt.Fprintf(w, "#define TASK_RA        0x%02x\n", offset(t, &t.RA))
	fmt.Fprintf(w, "#define TASK_SP        0x%02x\n", offset(t, &t.SP))
	for i := range t.S {
		fmt.Fprintf(w, "#define TASK_S%d        0x%02x\n", i, offset(t, &t.S[i]))
	}
	fmt.Fprintf(w, "#define TASK_TP        0x%02x\n", offset(t, &t.TP))
	fmt.Fprintf(w, "#define TASK_PGDL      0x%02x\n", offset(t, &t.PGDL))
	fmt.Fprintf(w, "#define TASK_SIZE      0x%02x\n", reflect.TypeOf(*t).Size())

	fmt.Fprintf(w, "\n// Control and status registers.\n")
	for _, c := range []struct {
		name string
		num  int
	}{
		{"CRMD", CSR_CRMD},
		{"PRMD", CSR_PRMD},
		{"EUEN", CSR_EUEN},
		{"ECFG", CSR_ECFG},
		{"ESTAT", CSR_ESTAT},
		{"ERA", CSR_ERA},
		{"BADV", CSR_BADV},
		{"EENTRY", CSR_EENTRY},
		{"PGDL", CSR_PGDL},
		{"PGDH", CSR_PGDH},
		{"PGD", CSR_PGD},
		{"CPUID", CSR_CPUID},
		{"KSAVE_KSP", CSR_KSAVE_KSP},
		{"KSAVE_T0", CSR_KSAVE_T0},
		{"KSAVE_USP", CSR_KSAVE_USP},
		{"KSAVE_G", CSR_KSAVE_G},
		{"KSAVE_TP", CSR_KSAVE_TP},
		{"TLBRSAVE", CSR_TLBRSAVE},
	} {
		fmt.Fprintf(w, "#define CSR_%-10s 0x%02x\n", c.name, c.num)
	}

	fmt.Fprintf(w, "\n// Bits.\n")
	fmt.Fprintf(w, "#define PRMD_PPLV_MASK 0x%02x\n", PRMD_PPLV_MASK)
	fmt.Fprintf(w, "#define PRMD_USER      0x%02x\n", PRMD_USER)
	fmt.Fprintf(w, "#define CRMD_IE        0x%02x\n", CRMD_IE)
}
