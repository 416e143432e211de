package device

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Device", func() {
	var (
		mockCtrl *gomock.Controller
		driver   *MockDriver
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		driver = NewMockDriver(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	openWith := func(v Version, caps Capability) *Device {
		driver.EXPECT().Open().Return(nil)
		driver.EXPECT().Version().Return(v, nil)
		driver.EXPECT().Capabilities().Return(caps, nil)

		d, err := Open(driver)
		Expect(err).NotTo(HaveOccurred())

		return d
	}

	It("should open a device", func() {
		d := openWith(Version{3, 40}, CapTMZ)

		Expect(d.Version()).To(Equal(Version{3, 40}))
		Expect(d.Supports(CapTMZ)).To(BeTrue())
		Expect(d.Gate()).To(Succeed())
	})

	It("should report unavailable if the driver cannot open", func() {
		driver.EXPECT().Open().Return(errors.New("no such file"))

		_, err := Open(driver)

		Expect(err).To(MatchError(ErrDeviceUnavailable))
		Expect(IsSkip(err)).To(BeFalse())
	})

	It("should refuse an old driver", func() {
		driver.EXPECT().Open().Return(nil)
		driver.EXPECT().Version().Return(Version{3, 36}, nil)
		driver.EXPECT().Close().Return(nil)

		_, err := Open(driver)

		Expect(err).To(MatchError(ErrDeviceUnavailable))
		Expect(IsSkip(err)).To(BeTrue())
	})

	It("should accept a lowered minimum version", func() {
		driver.EXPECT().Open().Return(nil)
		driver.EXPECT().Version().Return(Version{3, 30}, nil)
		driver.EXPECT().Capabilities().Return(CapTMZ, nil)

		d, err := Open(driver, WithMinVersion(Version{3, 0}))

		Expect(err).NotTo(HaveOccurred())
		Expect(d.Gate()).To(Succeed())
	})

	It("should gate a device without TMZ", func() {
		d := openWith(Version{3, 40}, 0)

		err := d.Gate()

		Expect(IsSkip(err)).To(BeTrue())
		Expect(err).To(MatchError(ErrDeviceUnavailable))
	})

	It("should track contexts", func() {
		d := openWith(Version{3, 40}, CapTMZ)
		driver.EXPECT().CreateContext().Return(ContextHandle(7), nil)
		driver.EXPECT().DestroyContext(ContextHandle(7)).Return(nil)

		h, err := d.CreateContext()
		Expect(err).NotTo(HaveOccurred())
		Expect(d.OpenContexts()).To(Equal(1))

		Expect(d.DestroyContext(h)).To(Succeed())
		Expect(d.OpenContexts()).To(Equal(0))
		Expect(d.DestroyContext(h)).To(MatchError(ErrNotFound))
	})

	It("should destroy leftover contexts at close, once", func() {
		d := openWith(Version{3, 40}, CapTMZ)
		driver.EXPECT().CreateContext().Return(ContextHandle(1), nil)
		driver.EXPECT().DestroyContext(ContextHandle(1)).Return(nil)
		driver.EXPECT().Close().Return(nil).Times(1)

		_, err := d.CreateContext()
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Close()).To(Succeed())
		Expect(d.Close()).To(Succeed())

		_, err = d.CreateContext()
		Expect(err).To(MatchError(ErrDeviceUnavailable))
	})

	It("should wrap ring query errors", func() {
		d := openWith(Version{3, 40}, CapTMZ)
		driver.EXPECT().QueryRings(EngineDMA).Return(uint32(0), ErrNotFound)

		_, err := d.QueryRings(EngineDMA)

		Expect(err).To(MatchError(ErrNotFound))
	})
})

var _ = Describe("Types", func() {
	It("should compare versions", func() {
		Expect(Version{3, 37}.AtLeast(Version{3, 37})).To(BeTrue())
		Expect(Version{4, 0}.AtLeast(Version{3, 37})).To(BeTrue())
		Expect(Version{3, 36}.AtLeast(Version{3, 37})).To(BeFalse())
		Expect(Version{2, 99}.AtLeast(Version{3, 0})).To(BeFalse())
	})

	It("should parse versions", func() {
		v, err := ParseVersion("3.37")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(Version{3, 37}))

		_, err = ParseVersion("three")
		Expect(err).To(HaveOccurred())
	})

	It("should parse domains", func() {
		d, err := ParseDomain("gtt")
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(DomainGTT))
		Expect(DomainSystem.String()).To(Equal("SYSTEM"))
		Expect(Domain(9).Valid()).To(BeFalse())

		_, err = ParseDomain("l2")
		Expect(err).To(HaveOccurred())
	})

	It("should test flags", func() {
		f := FlagEncrypted | FlagNoCPUAccess
		Expect(f.Has(FlagEncrypted)).To(BeTrue())
		Expect(FlagEncrypted.Has(FlagNoCPUAccess)).To(BeFalse())
	})
})
