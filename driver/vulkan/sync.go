package vulkan

import (
	"time"

	"github.com/ironsmile/vkframe/driver"
	vk "github.com/vulkan-go/vulkan"
)

type fence struct {
	g     *GPU
	fence vk.Fence
}

// NewFence implements driver.GPU.
func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var f vk.Fence
	if err := check(vk.CreateFence(g.device, &fenceInfo, nil, &f), "vulkan: creating fence"); err != nil {
		return nil, err
	}
	return &fence{g: g, fence: f}, nil
}

func (f *fence) Wait(timeout time.Duration) error {
	res := vk.WaitForFences(f.g.device, 1, []vk.Fence{f.fence}, vk.True, timeoutNanos(timeout))
	return check(res, "vulkan: waiting for fence")
}

func (f *fence) Reset() error {
	return check(vk.ResetFences(f.g.device, 1, []vk.Fence{f.fence}), "vulkan: resetting fence")
}

func (f *fence) Signaled() (bool, error) {
	switch res := vk.GetFenceStatus(f.g.device, f.fence); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, check(res, "vulkan: fence status")
	}
}

func (f *fence) Destroy() {
	vk.DestroyFence(f.g.device, f.fence, nil)
}

type semaphore struct {
	g   *GPU
	sem vk.Semaphore
}

// NewSemaphore implements driver.GPU.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var s vk.Semaphore
	if err := check(vk.CreateSemaphore(g.device, &semaphoreInfo, nil, &s), "vulkan: creating semaphore"); err != nil {
		return nil, err
	}
	return &semaphore{g: g, sem: s}, nil
}

func (s *semaphore) Destroy() {
	vk.DestroySemaphore(s.g.device, s.sem, nil)
}

// semaphoreHandles returns the handles of sems. Semaphores created by other
// drivers are skipped.
func semaphoreHandles(sems []driver.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, 0, len(sems))
	for _, s := range sems {
		if vs, ok := s.(*semaphore); ok {
			out = append(out, vs.sem)
		}
	}
	return out
}
