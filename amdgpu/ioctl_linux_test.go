package amdgpu

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/securebounce/device"
	"golang.org/x/sys/unix"
)

var _ = Describe("Errno mapping", func() {
	DescribeTable("kernel errors",
		func(errno unix.Errno, kind error) {
			err := mapErrno("AMDGPU_CS", errno)

			Expect(err).To(MatchError(kind))
			Expect(errors.Is(err, errno)).To(BeTrue())
			Expect(err.Error()).To(HavePrefix("AMDGPU_CS: "))
		},
		Entry("ECANCELED", unix.ECANCELED, device.ErrContextLost),
		Entry("ENODEV", unix.ENODEV, device.ErrContextLost),
		Entry("EINVAL", unix.EINVAL, device.ErrInvalidPacket),
		Entry("ETIME", unix.ETIME, device.ErrTimeout),
		Entry("ETIMEDOUT", unix.ETIMEDOUT, device.ErrTimeout),
		Entry("ENOENT", unix.ENOENT, device.ErrNotFound),
	)

	It("should keep other errors unclassified", func() {
		err := mapErrno("AMDGPU_GEM_CREATE", unix.ENOMEM)

		Expect(err).To(MatchError(unix.ENOMEM))
		Expect(errors.Is(err, device.ErrContextLost)).To(BeFalse())
		Expect(errors.Is(err, device.ErrInvalidPacket)).To(BeFalse())
	})
})
