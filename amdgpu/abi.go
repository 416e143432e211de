package amdgpu

import "unsafe"

// Ioctl number layout, from include/uapi/asm-generic/ioctl.h.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr<<iocNRShift
}

func iow(typ, nr, size uint32) uint32 {
	return ioc(iocWrite, typ, nr, size)
}

func iowr(typ, nr, size uint32) uint32 {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

// DRM ioctl numbers, from include/uapi/drm/drm.h.
const (
	drmIoctlBase   = 'd'
	drmCommandBase = 0x40

	drmVersionNR  = 0x00
	drmGemCloseNR = 0x09
)

// amdgpu command numbers, from include/uapi/drm/amdgpu_drm.h.
const (
	amdgpuGemCreate = 0x00
	amdgpuGemMmap   = 0x01
	amdgpuCtx       = 0x02
	amdgpuCS        = 0x04
	amdgpuInfo      = 0x05
	amdgpuGemVA     = 0x08
	amdgpuWaitCS    = 0x09
	amdgpuGemOp     = 0x10
)

// Memory domains of AMDGPU_GEM_CREATE and AMDGPU_GEM_OP_SET_PLACEMENT.
const (
	gemDomainCPU  = 0x1
	gemDomainGTT  = 0x2
	gemDomainVRAM = 0x4
)

// Creation flags of AMDGPU_GEM_CREATE.
const (
	gemCreateCPUAccessRequired = 1 << 0
	gemCreateNoCPUAccess       = 1 << 1
	gemCreateEncrypted         = 1 << 10
)

const (
	ctxOpAllocCtx = 1
	ctxOpFreeCtx  = 2

	gemVAOpMap   = 1
	gemVAOpUnmap = 2

	vmPageReadable  = 1 << 1
	vmPageWriteable = 1 << 2
	vmPageExec      = 1 << 3

	gemOpSetPlacement = 1

	chunkIDIB        = 0x01
	chunkIDBOHandles = 0x06

	ibFlagsSecure = 1 << 5

	hwIPGFX = 0
	hwIPDMA = 2

	infoHWIPInfo = 0x02
	infoDevInfo  = 0x16

	idsFlagsTMZ = 0x4
)

// Offsets into struct drm_amdgpu_info_device. The struct grows with every
// kernel release, so it is read as raw bytes.
const (
	devInfoSize              = 512
	devInfoIDSFlags          = 136
	devInfoVirtualAddrOffset = 144
	devInfoVirtualAddrMax    = 152
	devInfoVirtualAddrAlign  = 160
)

// drmVersion is struct drm_version.
type drmVersion struct {
	Major      int32
	Minor      int32
	Patchlevel int32
	_          int32
	NameLen    uint64
	Name       uint64
	DateLen    uint64
	Date       uint64
	DescLen    uint64
	Desc       uint64
}

// drmGemClose is struct drm_gem_close.
type drmGemClose struct {
	Handle uint32
	_      uint32
}

// gemCreate is union drm_amdgpu_gem_create. On return the handle is in the
// first word.
type gemCreate struct {
	BOSize      uint64
	Alignment   uint64
	Domains     uint64
	DomainFlags uint64
}

// gemMmap is union drm_amdgpu_gem_mmap. On input the first word is the handle;
// on return the whole field is the mmap offset.
type gemMmap struct {
	HandleOrOffset uint64
}

// ctxArgs is union drm_amdgpu_ctx. On return of an allocation the context id
// is in the first word.
type ctxArgs struct {
	Op       uint32
	Flags    uint32
	CtxID    uint32
	Priority int32
}

// boListEntry is struct drm_amdgpu_bo_list_entry.
type boListEntry struct {
	BOHandle   uint32
	BOPriority uint32
}

// boListIn is struct drm_amdgpu_bo_list_in. It is also the payload of a
// BO_HANDLES chunk.
type boListIn struct {
	Operation  uint32
	ListHandle uint32
	BONumber   uint32
	BOInfoSize uint32
	BOInfoPtr  uint64
}

// csIn is the input of union drm_amdgpu_cs. Chunks points to an array of
// pointers to csChunk. On return the first 8 bytes hold the submission
// sequence number.
type csIn struct {
	CtxID        uint32
	BOListHandle uint32
	NumChunks    uint32
	Flags        uint32
	Chunks       uint64
}

// csChunk is struct drm_amdgpu_cs_chunk.
type csChunk struct {
	ChunkID   uint32
	LengthDW  uint32
	ChunkData uint64
}

// csChunkIB is struct drm_amdgpu_cs_chunk_ib.
type csChunkIB struct {
	_          uint32
	Flags      uint32
	VAStart    uint64
	IBBytes    uint32
	IPType     uint32
	IPInstance uint32
	Ring       uint32
}

// infoArgs is struct drm_amdgpu_info.
type infoArgs struct {
	ReturnPointer uint64
	ReturnSize    uint32
	Query         uint32
	Type          uint32
	IPInstance    uint32
	_             [2]uint32
}

// infoHWIP is struct drm_amdgpu_info_hw_ip.
type infoHWIP struct {
	VersionMajor       uint32
	VersionMinor       uint32
	CapabilitiesFlags  uint64
	IBStartAlignment   uint32
	IBSizeAlignment    uint32
	AvailableRings     uint32
	IPDiscoveryVersion uint32
}

// gemVA is struct drm_amdgpu_gem_va.
type gemVA struct {
	Handle     uint32
	_          uint32
	Operation  uint32
	Flags      uint32
	VAAddress  uint64
	OffsetInBO uint64
	MapSize    uint64
}

// waitCS is union drm_amdgpu_wait_cs. On return the first word is non-zero if
// the submission is still busy.
type waitCS struct {
	Handle     uint64
	Timeout    uint64
	IPType     uint32
	IPInstance uint32
	Ring       uint32
	CtxID      uint32
}

// gemOp is struct drm_amdgpu_gem_op.
type gemOp struct {
	Handle uint32
	Op     uint32
	Value  uint64
}

func drmIoctl(nr uint32, size uintptr) uint32 {
	return iowr(drmIoctlBase, nr, uint32(size))
}

func amdgpuIoctl(nr uint32, size uintptr) uint32 {
	return iowr(drmIoctlBase, drmCommandBase+nr, uint32(size))
}

// Ioctl request numbers.
var (
	ioctlVersion   = drmIoctl(drmVersionNR, unsafe.Sizeof(drmVersion{}))
	ioctlGemClose  = iow(drmIoctlBase, drmGemCloseNR, uint32(unsafe.Sizeof(drmGemClose{})))
	ioctlGemCreate = amdgpuIoctl(amdgpuGemCreate, unsafe.Sizeof(gemCreate{}))
	ioctlGemMmap   = amdgpuIoctl(amdgpuGemMmap, unsafe.Sizeof(gemMmap{}))
	ioctlCtx       = amdgpuIoctl(amdgpuCtx, unsafe.Sizeof(ctxArgs{}))
	ioctlCS        = amdgpuIoctl(amdgpuCS, unsafe.Sizeof(csIn{}))
	ioctlInfo      = iow(drmIoctlBase, drmCommandBase+amdgpuInfo, uint32(unsafe.Sizeof(infoArgs{})))
	ioctlGemVA     = iow(drmIoctlBase, drmCommandBase+amdgpuGemVA, uint32(unsafe.Sizeof(gemVA{})))
	ioctlWaitCS    = amdgpuIoctl(amdgpuWaitCS, unsafe.Sizeof(waitCS{}))
	ioctlGemOp     = amdgpuIoctl(amdgpuGemOp, unsafe.Sizeof(gemOp{}))
)
