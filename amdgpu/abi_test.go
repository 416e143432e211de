package amdgpu

import (
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/securebounce/device"
)

var _ = Describe("ABI", func() {
	DescribeTable("struct sizes",
		func(size uintptr, want int) {
			Expect(int(size)).To(Equal(want))
		},
		Entry("drm_version", unsafe.Sizeof(drmVersion{}), 64),
		Entry("drm_gem_close", unsafe.Sizeof(drmGemClose{}), 8),
		Entry("drm_amdgpu_gem_create", unsafe.Sizeof(gemCreate{}), 32),
		Entry("drm_amdgpu_gem_mmap", unsafe.Sizeof(gemMmap{}), 8),
		Entry("drm_amdgpu_ctx", unsafe.Sizeof(ctxArgs{}), 16),
		Entry("drm_amdgpu_bo_list_entry", unsafe.Sizeof(boListEntry{}), 8),
		Entry("drm_amdgpu_bo_list_in", unsafe.Sizeof(boListIn{}), 24),
		Entry("drm_amdgpu_cs", unsafe.Sizeof(csIn{}), 24),
		Entry("drm_amdgpu_cs_chunk", unsafe.Sizeof(csChunk{}), 16),
		Entry("drm_amdgpu_cs_chunk_ib", unsafe.Sizeof(csChunkIB{}), 32),
		Entry("drm_amdgpu_info", unsafe.Sizeof(infoArgs{}), 32),
		Entry("drm_amdgpu_info_hw_ip", unsafe.Sizeof(infoHWIP{}), 32),
		Entry("drm_amdgpu_gem_va", unsafe.Sizeof(gemVA{}), 40),
		Entry("drm_amdgpu_wait_cs", unsafe.Sizeof(waitCS{}), 32),
		Entry("drm_amdgpu_gem_op", unsafe.Sizeof(gemOp{}), 16),
	)

	It("should place the ring mask where the kernel writes it", func() {
		Expect(unsafe.Offsetof(infoHWIP{}.AvailableRings)).To(BeEquivalentTo(24))
	})

	DescribeTable("request numbers",
		func(req uint32, want uint32) {
			Expect(req).To(Equal(want))
		},
		Entry("DRM_IOCTL_VERSION", ioctlVersion, uint32(0xc0406400)),
		Entry("DRM_IOCTL_GEM_CLOSE", ioctlGemClose, uint32(0x40086409)),
		Entry("DRM_IOCTL_AMDGPU_GEM_CREATE", ioctlGemCreate, uint32(0xc0206440)),
		Entry("DRM_IOCTL_AMDGPU_GEM_MMAP", ioctlGemMmap, uint32(0xc0086441)),
		Entry("DRM_IOCTL_AMDGPU_CTX", ioctlCtx, uint32(0xc0106442)),
		Entry("DRM_IOCTL_AMDGPU_CS", ioctlCS, uint32(0xc0186444)),
		Entry("DRM_IOCTL_AMDGPU_INFO", ioctlInfo, uint32(0x40206445)),
		Entry("DRM_IOCTL_AMDGPU_GEM_VA", ioctlGemVA, uint32(0x40286448)),
		Entry("DRM_IOCTL_AMDGPU_WAIT_CS", ioctlWaitCS, uint32(0xc0206449)),
		Entry("DRM_IOCTL_AMDGPU_GEM_OP", ioctlGemOp, uint32(0xc0106450)),
	)

	It("should translate creation flags", func() {
		Expect(gemFlags(0)).To(BeEquivalentTo(gemCreateCPUAccessRequired))
		Expect(gemFlags(device.FlagEncrypted | device.FlagNoCPUAccess)).
			To(BeEquivalentTo(gemCreateEncrypted | gemCreateNoCPUAccess))
		Expect(gemDomain(device.DomainSystem)).To(BeEquivalentTo(gemDomainCPU))
		Expect(hwIP(device.EngineDMA)).To(BeEquivalentTo(hwIPDMA))
	})
})
