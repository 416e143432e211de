package amdgpu

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Mapping", func() {
	var m *mapping

	BeforeEach(func() {
		m = newMapping(make([]byte, 16))
	})

	It("should read back written bytes", func() {
		n, err := m.WriteAt([]byte{1, 2, 3, 4}, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(4))

		buf := make([]byte, 4)
		_, err = m.ReadAt(buf, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should stop at the end of the mapping", func() {
		buf := make([]byte, 8)
		n, err := m.ReadAt(buf, 12)
		Expect(err).To(MatchError(io.EOF))
		Expect(n).To(Equal(4))

		n, err = m.WriteAt(buf, 12)
		Expect(err).To(MatchError(io.ErrShortWrite))
		Expect(n).To(Equal(4))
	})

	It("should reject offsets outside the mapping", func() {
		_, err := m.ReadAt(make([]byte, 1), 17)
		Expect(err).To(HaveOccurred())
	})

	It("should fail after detaching", func() {
		data := m.detach()
		Expect(data).To(HaveLen(16))
		Expect(m.Len()).To(Equal(16))

		_, err := m.ReadAt(make([]byte, 1), 0)
		Expect(err).To(MatchError(ErrNotMapped))
	})
})
