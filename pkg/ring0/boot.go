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
	"thcore.dev/thcore/pkg/arch"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/ring0/pagetables"
)

// Direct mapped windows. DMW0 maps 0x8000... strongly-ordered uncached and
// DMW1 maps 0x9000... coherent cached, both for privilege level 0 only.
const (
	DMW0 = 0x8<<arch.DMW_VSEG_SHIFT | arch.DMW_PLV0
	DMW1 = 0x9<<arch.DMW_VSEG_SHIFT | 1<<arch.DMW_MAT_SHIFT | arch.DMW_PLV0
)

// BootParams are the parameters of the boot sequence.
type BootParams struct {
	// Kernel receives the published secondary boot stacks.
	Kernel *Kernel

	// VirtToPhys converts a kernel virtual address to a physical one.
	VirtToPhys func(uintptr) uintptr

	// TrapEntry is the address the trap vector jumps to.
	TrapEntry uint64

	// Entry is the primary core's kernel entry. It must not return.
	Entry func(cpuID int)

	// SecondaryEntry is the entry of every other core. It must not return.
	SecondaryEntry func(cpuID int)
}

// vectors is the static vector area, shared by all cores.
var vectors Vectors

// BuildVectors fills the shared vector pages so that the trap vector jumps to
// target.
func BuildVectors(target uint64) *Vectors {
	vectors.Build(target)
	return &vectors
}

// BootPrimary brings up the first core: it maps the direct windows, builds
// the boot tables and vectors, turns on the MMU and calls p.Entry. It does
// not return.
//
// Nothing here allocates; the tables and vectors are static.
func BootPrimary(m Machine, bt *pagetables.BootTables, p BootParams) {
	initWindows(m)
	if err := bt.Init(p.VirtToPhys); err != nil {
		log.Warningf("CPU %d: %v", m.ReadCSR(arch.CSR_CPUID), err)
		m.Halt()
		return
	}
	BuildVectors(p.TrapEntry)
	initMMU(m, bt, p.VirtToPhys)
	initMode(m)
	cpuID := int(m.ReadCSR(arch.CSR_CPUID))
	p.Entry(cpuID)
	log.Warningf("CPU %d: primary entry returned", cpuID)
	m.Halt()
}

// BootSecondary brings up another core on the tables built by BootPrimary.
// The core halts unless a boot stack has been published for it.
func BootSecondary(m Machine, bt *pagetables.BootTables, p BootParams) {
	cpuID := int(m.ReadCSR(arch.CSR_CPUID))
	if p.Kernel.takeSecondaryStack() == 0 {
		log.Warningf("CPU %d: no secondary boot stack published", cpuID)
		m.Halt()
		return
	}
	initWindows(m)
	initMMU(m, bt, p.VirtToPhys)
	initMode(m)
	p.SecondaryEntry(cpuID)
	log.Warningf("CPU %d: secondary entry returned", cpuID)
	m.Halt()
}

// PublishSecondaryStack publishes the boot stack top for the next secondary
// core.
func (k *Kernel) PublishSecondaryStack(top uintptr) {
	k.secondaryStack.Store(top)
}

// SecondaryStack returns the published secondary boot stack top, or zero.
func (k *Kernel) SecondaryStack() uintptr {
	return k.secondaryStack.Load()
}

func (k *Kernel) takeSecondaryStack() uintptr {
	return k.secondaryStack.Swap(0)
}

func initWindows(m Machine) {
	m.WriteCSR(arch.CSR_DMW0, DMW0)
	m.WriteCSR(arch.CSR_DMW1, DMW1)
}

// initMMU sets the page size and walker geometry, installs the vectors and
// the kernel root, and flushes the TLB.
func initMMU(m Machine, bt *pagetables.BootTables, virtToPhys func(uintptr) uintptr) {
	tlbidx := m.ReadCSR(arch.CSR_TLBIDX)
	m.WriteCSR(arch.CSR_TLBIDX, tlbidx&^arch.TLBIDX_PS_MASK|arch.PS_4K<<arch.TLBIDX_PS_SHIFT)
	m.WriteCSR(arch.CSR_STLBPS, arch.PS_4K)
	m.WriteCSR(arch.CSR_TLBREHI, arch.PS_4K)

	g := pagetables.DefaultGeometry
	m.WriteCSR(arch.CSR_PWCL, g.PWCL())
	m.WriteCSR(arch.CSR_PWCH, g.PWCH())

	m.WriteCSR(arch.CSR_TLBRENTRY, uint64(virtToPhys(vectors.RefillEntry())))
	m.WriteCSR(arch.CSR_EENTRY, uint64(vectors.TrapEntry()))
	m.WriteCSR(arch.CSR_ECFG, m.ReadCSR(arch.CSR_ECFG)&^arch.ECFG_VS_MASK)

	m.WriteCSR(arch.CSR_PGDH, uint64(virtToPhys(bt.Root())))
	m.WriteCSR(arch.CSR_PGDL, 0)
	m.InvalidateTLB(InvalidateAll, 0)
}

// initMode enters privilege level 0 with paging on and interrupts off.
func initMode(m Machine) {
	m.WriteCSR(arch.CSR_CRMD, arch.CRMD_KERNEL)
	m.WriteCSR(arch.CSR_PRMD, 0)
	m.WriteCSR(arch.CSR_EUEN, 0)
}

// IdentityVirtToPhys is the translation used when kernel addresses are
// already physical.
func IdentityVirtToPhys(va uintptr) uintptr { return va }
