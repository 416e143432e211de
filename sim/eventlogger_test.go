package sim

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"k8s.io/klog/v2"
)

type namedHandler struct {
	*MockHandler
}

func (namedHandler) Name() string { return "Driver" }

var _ = Describe("EventLogger", func() {
	var (
		mockCtrl *gomock.Controller
		buf      *bytes.Buffer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		buf = new(bytes.Buffer)

		klog.LogToStderr(false)
		klog.SetOutput(buf)
		DeferCleanup(func() {
			klog.Flush()
			klog.LogToStderr(true)
		})
	})

	It("should log handled events with the handler name", func() {
		engine := NewSerialEngine()
		engine.AcceptHook(NewEventLogger(0))

		handler := namedHandler{NewMockHandler(mockCtrl)}
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(VTimeInSec(1)).AnyTimes()
		evt.EXPECT().Handler().Return(handler).AnyTimes()
		handler.EXPECT().Handle(evt).Return(nil)

		engine.Schedule(evt)
		Expect(engine.Run()).To(Succeed())
		klog.Flush()

		Expect(buf.String()).To(ContainSubstring(`"Event"`))
		Expect(buf.String()).To(ContainSubstring(`handler="Driver"`))
	})

	It("should stay quiet above the verbosity", func() {
		h := NewEventLogger(100)
		h.Func(HookCtx{Pos: HookPosBeforeEvent, Item: NewMockEvent(mockCtrl)})
		klog.Flush()

		Expect(buf.String()).To(BeEmpty())
	})
})
