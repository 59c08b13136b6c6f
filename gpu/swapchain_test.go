package gpu

import (
	"time"

	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type acquireResult struct {
	ok  bool
	err error
}

// acquireAsync runs AcquireNextImage on another goroutine. The caller must not
// touch sc until the result has been received.
func acquireAsync(sc *SwapChain) <-chan acquireResult {
	done := make(chan acquireResult, 1)
	go func() {
		defer GinkgoRecover()
		ok, err := sc.AcquireNextImage()
		done <- acquireResult{ok, err}
	}()
	return done
}

// frame runs one complete frame and expects it to succeed.
func frame(sc *SwapChain, cmds ...driver.CmdBuffer) {
	ok, err := sc.AcquireNextImage()
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, ok).To(BeTrue())

	ok, err = sc.SubmitCommandBuffers(cmds)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, ok).To(BeTrue())
}

var _ = Describe("SwapChain", func() {
	var (
		opts soft.Options
		win  *soft.Window
		dev  *Device
		sg   *soft.GPU
		hook *logtest.Hook
		sc   *SwapChain
	)

	JustBeforeEach(func() {
		win = soft.NewWindow(800, 600)
		dev, sg, hook = openTestDevice(opts, win, Options{})

		var err error
		sc, err = dev.NewSwapChain(SwapChainDesc{Width: 800, Height: 600, ImageCount: 3})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		dev.Destroy()
		Expect(sg.Violations()).To(BeEmpty())
	})

	Context("with a queue that completes on its own", func() {
		BeforeEach(func() {
			opts = soft.Options{Latency: time.Millisecond}
		})

		It("keeps at most two frames in flight", func() {
			var submitted uint64
			for i := 0; i < 20; i++ {
				ok, err := sc.AcquireNextImage()
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(sc.CurrentImage()).To(BeNumerically(">=", 0))
				Expect(dev.FrameIndex()).To(Equal(i % MaxFramesInFlight))

				ok, err = sc.SubmitCommandBuffers(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				submitted++

				Expect(submitted - sg.Executed()).To(BeNumerically("<=", MaxFramesInFlight))
			}
			Expect(dev.CurrentFrame()).To(BeEquivalentTo(20))
			Expect(sc.WaitIdle()).To(Succeed())
			Expect(sg.Executed()).To(Equal(submitted))
		})

		It("reports an out of date surface and resumes after Recreate", func() {
			for i := 0; i < 5; i++ {
				frame(sc)
			}
			executed := func() uint64 {
				Expect(dev.WaitIdle()).To(Succeed())
				return sg.Executed()
			}
			Expect(executed()).To(BeEquivalentTo(5))

			win.Resize(1024, 768)
			ok, err := sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(sc.NeedsRecreate()).To(BeTrue())
			Expect(sc.SlotState(sc.CurrentFrame())).To(Equal(FrameIdle))
			Expect(executed()).To(BeEquivalentTo(5), "nothing is submitted for the skipped frame")
			Expect(dev.CurrentFrame()).To(BeEquivalentTo(5))

			Expect(sc.Recreate(1024, 768, driver.PresentFIFO)).To(Succeed())
			Expect(sc.NeedsRecreate()).To(BeFalse())
			w, h := sc.Extent()
			Expect([]int{w, h}).To(Equal([]int{1024, 768}))
			Expect(sc.AspectRatio()).To(BeNumerically("~", 1024.0/768.0, 1e-6))
			for _, img := range sc.Images() {
				Expect(img.Width()).To(Equal(1024))
			}

			frame(sc)
			Expect(dev.CurrentFrame()).To(BeEquivalentTo(6))
			Expect(executed()).To(BeEquivalentTo(6))
		})

		It("still submits a frame whose presentation is out of date", func() {
			frame(sc)

			ok, err := sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			win.Resize(640, 480)
			ok, err = sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(sc.NeedsRecreate()).To(BeTrue())
			Expect(dev.CurrentFrame()).To(BeEquivalentTo(2))

			Expect(sc.Recreate(640, 480, driver.PresentFIFO)).To(Succeed())
			frame(sc)
		})

		It("falls back to FIFO when the requested mode is not supported", func() {
			Expect(sc.PresentMode()).To(Equal(driver.PresentFIFO))
			Expect(sc.Recreate(800, 600, driver.PresentMailbox)).To(Succeed())
			Expect(sc.PresentMode()).To(Equal(driver.PresentFIFO))
			Expect(hasEntry(hook, logrus.WarnLevel, "mailbox is not supported")).To(BeTrue())
		})

		It("compares formats with another swapchain", func() {
			Expect(sc.CompareFormats(sc)).To(BeTrue())
			Expect(sc.CompareFormats(nil)).To(BeFalse())
			Expect(sc.Format()).To(Equal(driver.FormatBGRA8SRGB))
			Expect(sc.ImageCount()).To(Equal(3))
		})
	})

	Context("with a queue completed by the test", func() {
		BeforeEach(func() {
			opts = soft.Options{Manual: true}
		})

		It("blocks acquiring slot 0 until its previous frame retires", func() {
			frame(sc)
			frame(sc)
			Expect(sc.CurrentFrame()).To(Equal(0))

			done := acquireAsync(sc)
			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

			sg.Complete(1)
			var res acquireResult
			Eventually(done).Should(Receive(&res))
			Expect(res.err).NotTo(HaveOccurred())
			Expect(res.ok).To(BeTrue())
			Expect(sc.SlotFence(0).Status()).To(Equal(FenceSignaled))
			Expect(sc.SlotState(0)).To(Equal(FrameRendering))
			Expect(sc.SlotState(1)).To(Equal(FramePresenting))

			ok, err := sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("waits for the slot which last rendered to the acquired image", func() {
			frame(sc) // slot 0, image 0
			frame(sc) // slot 1, image 1
			sg.Complete(2)

			frame(sc) // slot 0, image 2
			Expect(sc.ImageFence(2)).To(BeIdenticalTo(sc.SlotFence(0)))
			Expect(sc.ImageFence(0)).To(BeIdenticalTo(sc.SlotFence(0)))

			// Slot 1 gets image 0, last written by slot 0 which is busy
			// with the frame on image 2.
			done := acquireAsync(sc)
			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

			sg.Complete(1)
			Eventually(done).Should(Receive(Equal(acquireResult{ok: true})))
			Expect(sc.CurrentImage()).To(Equal(0))
			Expect(sc.ImageFence(0)).To(BeIdenticalTo(sc.SlotFence(1)))

			ok, err := sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("keeps resources used by a frame until the frame retires", func() {
			b, err := dev.NewBuffer(BufferDesc{InstanceCount: 1, InstanceSize: 1024})
			Expect(err).NotTo(HaveOccurred())

			ok, err := sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			dev.Use(b)
			b.Destroy()
			ok, err = sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			dev.Collect()
			Expect(sg.MemoryInUse()).To(BeEquivalentTo(1024))

			sg.CompleteAll()
			dev.Collect()
			Expect(sg.MemoryInUse()).To(BeZero())
		})

		It("keeps a used resource alive when collected before the frame is submitted", func() {
			b, err := dev.NewBuffer(BufferDesc{InstanceCount: 1, InstanceSize: 512})
			Expect(err).NotTo(HaveOccurred())

			ok, err := sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			dev.Use(b)
			b.Destroy()

			Expect(dev.Collect()).To(BeZero())
			Expect(sg.MemoryInUse()).To(BeEquivalentTo(512))

			ok, err = sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			dev.Collect()
			Expect(sg.MemoryInUse()).To(BeEquivalentTo(512))

			sg.CompleteAll()
			Expect(dev.Collect()).To(Equal(1))
			Expect(sg.MemoryInUse()).To(BeZero())
		})

		It("recovers the frame slot after a rejected submission", func() {
			ok, err := sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			img := sc.CurrentImage()

			ok, err = sc.SubmitCommandBuffers([]driver.CmdBuffer{42})
			Expect(err).To(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(sc.SlotState(0)).To(Equal(FrameIdle))
			Expect(sc.ImageFence(img)).To(BeNil())
			Expect(sc.NeedsRecreate()).To(BeTrue())

			sg.CompleteAll()
			Expect(sc.SlotFence(0).Status()).To(Equal(FenceSignaled))

			Expect(sc.Recreate(800, 600, driver.PresentFIFO)).To(Succeed())
			Expect(sc.NeedsRecreate()).To(BeFalse())
			frame(sc)
			sg.CompleteAll()
			frame(sc)
			sg.CompleteAll()
		})

		It("drops per-image entries of a destroyed fence", func() {
			frame(sc)
			fence := sc.SlotFence(0)
			Expect(sc.ImageFence(0)).To(BeIdenticalTo(fence))

			sg.CompleteAll()
			fence.Destroy()
			dev.Collect()
			Expect(sc.ImageFence(0)).To(BeNil())
		})

		It("rejects frames driven out of order", func() {
			ok, err := sc.SubmitCommandBuffers(nil)
			Expect(ok).To(BeFalse())
			Expect(IsMisuse(err)).To(BeTrue())

			ok, err = sc.AcquireNextImage()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = sc.AcquireNextImage()
			Expect(ok).To(BeFalse())
			Expect(IsMisuse(err)).To(BeTrue())
			Expect(IsMisuse(sc.Recreate(800, 600, driver.PresentFIFO))).To(BeTrue())

			ok, err = sc.SubmitCommandBuffers(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(IsMisuse(sc.Recreate(0, 600, driver.PresentFIFO))).To(BeTrue())
		})

		It("releases its synchronization objects when destroyed", func() {
			frame(sc)
			sc.Destroy()
			dev.Collect()

			Expect(dev.PendingRequests()).To(BeZero())
			Expect(sg.Pending()).To(BeZero())
			_, err := sc.AcquireNextImage()
			Expect(IsMisuse(err)).To(BeTrue())
			sc.Destroy()
		})
	})
})
