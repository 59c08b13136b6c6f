package gpu

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// StatsJSON returns a JSON snapshot of the objects the device manages.
func (d *Device) StatsJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	d.printStats(&w)
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (d *Device) printStats(w *jwriter.Writer) {
	adapter := d.gpu.Adapter()

	json := w.Object()
	json.Name("Driver").String(adapter.Driver)
	json.Name("Adapter").String(adapter.Name)
	json.Name("Frame").Int(int(d.frame))
	json.Name("FrameIndex").Int(d.frameIndex)
	json.Name("PendingRequests").Int(d.requests.AmountOfRequests())
	json.Name("TrackedResources").Int(len(d.lastUse))

	var bufferBytes int64
	for b := range d.buffers {
		b.mu.Lock()
		bufferBytes += b.capacity
		b.mu.Unlock()
	}
	buffers := json.Name("Buffers").Object()
	buffers.Name("Count").Int(len(d.buffers))
	buffers.Name("Bytes").Int(int(bufferBytes))
	buffers.End()

	json.Name("Images").Int(len(d.images))
	json.Name("Fences").Int(len(d.fences))
	json.Name("Semaphores").Int(len(d.semaphores))

	swapchains := json.Name("SwapChains").Array()
	for sc := range d.swapchains {
		sc.printParameters(&swapchains)
	}
	swapchains.End()

	json.End()
}

func (sc *SwapChain) printParameters(arr *jwriter.ArrayState) {
	w, h := sc.Extent()

	json := arr.Object()
	json.Name("Width").Int(w)
	json.Name("Height").Int(h)
	json.Name("Format").String(sc.Format().String())
	json.Name("PresentMode").String(sc.PresentMode().String())
	json.Name("Images").Int(sc.ImageCount())
	json.Name("CurrentFrame").Int(sc.current)
	json.Name("NeedsRecreate").Bool(sc.needsRecreate)

	slots := json.Name("Slots").Array()
	for i := range sc.slots {
		slots.String(sc.slots[i].state.String())
	}
	slots.End()

	json.End()
}
