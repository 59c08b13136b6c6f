package main

import (
	"bytes"
	"sync/atomic"

	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/ironsmile/vkframe/gpu"
)

// softRenderer draws nothing. Its commands read the frame's uniforms the way
// a shader would and count the frames which saw data other than what the host
// wrote for them.
type softRenderer struct {
	ubo *gpu.Buffer

	executed atomic.Uint64
	stale    atomic.Uint64
}

func newSoftRenderer(ubo *gpu.Buffer) *softRenderer {
	return &softRenderer{ubo: ubo}
}

func (r *softRenderer) Record(slot int, img *gpu.Image) ([]driver.CmdBuffer, error) {
	offset := r.ubo.IndexOffset(slot)
	want := make([]byte, r.ubo.InstanceSize())
	if err := r.ubo.ReadFromBuffer(want, offset); err != nil {
		return nil, err
	}
	buf := r.ubo.DriverBuffer()

	draw := soft.Commands(func() {
		r.executed.Add(1)
		got := soft.DeviceBytes(buf)
		if int64(len(got)) < offset+int64(len(want)) || !bytes.Equal(got[offset:offset+int64(len(want))], want) {
			r.stale.Add(1)
		}
	})
	return []driver.CmdBuffer{draw}, nil
}

// Executed returns how many frames have executed on the queue.
func (r *softRenderer) Executed() uint64 { return r.executed.Load() }

// Stale returns how many executed frames read uniforms they were not given.
func (r *softRenderer) Stale() uint64 { return r.stale.Load() }

func (r *softRenderer) Destroy() {}
