package device

// Driver is the kernel-facing primitive set a Device is built upon.
//
// All methods must be safe for concurrent use. Submit blocks until the
// command stream completes or the driver gives up waiting.
type Driver interface {
	Open() error
	Close() error

	Version() (Version, error)
	Capabilities() (Capability, error)
	QueryRings(kind EngineKind) (uint32, error)

	CreateContext() (ContextHandle, error)
	DestroyContext(h ContextHandle) error

	Alloc(req AllocRequest) (Handle, error)
	MapGPU(h Handle, size uint64) (uint64, error)
	UnmapGPU(h Handle, va uint64, size uint64) error
	MapCPU(h Handle, size uint64) (Mapping, error)
	UnmapCPU(h Handle) error
	Free(h Handle) error

	// SetPlacement requests the buffer to move to another domain. It is a
	// direct control request; the move may be realized lazily.
	SetPlacement(h Handle, domain Domain) error

	Submit(ctx ContextHandle, s Submission) error
}
