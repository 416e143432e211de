package device

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RangeAllocator", func() {
	var a *RangeAllocator

	BeforeEach(func() {
		a = NewRangeAllocator(0x1000, 0x4000)
	})

	It("should allocate aligned ranges", func() {
		r1, err := a.Alloc(0x100, 0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(r1).To(Equal(uint64(0x1000)))

		r2, err := a.Alloc(0x100, 0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(r2).To(Equal(uint64(0x2000)))

		r3, err := a.Alloc(0x10, 0x10)
		Expect(err).NotTo(HaveOccurred())
		Expect(r3).To(Equal(uint64(0x1100)))

		Expect(a.InUse()).To(Equal(3))
	})

	It("should reuse released ranges", func() {
		r1, _ := a.Alloc(0x2000, 1)
		_, _ = a.Alloc(0x2000, 1)

		_, err := a.Alloc(1, 1)
		Expect(err).To(MatchError(ErrOutOfSpace))

		Expect(a.Release(r1)).To(Succeed())

		r3, err := a.Alloc(0x2000, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(r3).To(Equal(r1))
	})

	It("should merge neighbours", func() {
		r1, _ := a.Alloc(0x1000, 1)
		r2, _ := a.Alloc(0x1000, 1)
		r3, _ := a.Alloc(0x2000, 1)

		Expect(a.Release(r2)).To(Succeed())
		Expect(a.Release(r1)).To(Succeed())
		Expect(a.Release(r3)).To(Succeed())

		r, err := a.Alloc(0x4000, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(Equal(uint64(0x1000)))
	})

	It("should reject bad requests", func() {
		_, err := a.Alloc(0, 1)
		Expect(err).To(HaveOccurred())

		_, err = a.Alloc(16, 3)
		Expect(err).To(HaveOccurred())

		Expect(a.Release(0x1234)).To(MatchError(ErrNotFound))
	})

	It("should tell the window", func() {
		Expect(a.Contains(0x1000)).To(BeTrue())
		Expect(a.Contains(0x4fff)).To(BeTrue())
		Expect(a.Contains(0x5000)).To(BeFalse())
	})
})
