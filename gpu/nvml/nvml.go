// Package nvml implements gpu.Probe with the Go bindings for the NVIDIA
// Management Library. The probe owns the NVML session: Init on construction,
// Shutdown on Close.
package nvml

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"

	"github.com/Willam-Ni/easyFL/gpu"
)

type probe struct{}

// NewProbe initializes NVML and returns a probe over the local devices.
// The caller must Close() it to release the NVML session.
func NewProbe() (*probe, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errors.Errorf("unable to initialize NVML: %v", nvml.ErrorString(ret))
	}
	return &probe{}, nil
}

func (p *probe) Devices() ([]int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Errorf("unable to get device count: %v", nvml.ErrorString(ret))
	}
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func (p *probe) MemInfo(id int) (gpu.MemInfo, error) {
	device, ret := nvml.DeviceGetHandleByIndex(id)
	if ret != nvml.SUCCESS {
		if ret == nvml.ERROR_INVALID_ARGUMENT {
			return gpu.MemInfo{}, gpu.ErrNoDevice{ID: id}
		}
		return gpu.MemInfo{}, errors.Errorf("unable to get device %d: %v", id, nvml.ErrorString(ret))
	}
	mem, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return gpu.MemInfo{}, errors.Errorf("unable to get memory info for device %d: %v", id, nvml.ErrorString(ret))
	}
	return gpu.MemInfo{Free: gpu.Memory(mem.Free), Total: gpu.Memory(mem.Total)}, nil
}

func (p *probe) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return errors.Errorf("unable to shutdown NVML: %v", nvml.ErrorString(ret))
	}
	return nil
}
