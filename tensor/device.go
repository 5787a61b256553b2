package tensor

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

type DeviceType int

const (
	CPU DeviceType = iota
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a configuration device string onto a DeviceType.
// Only host execution is available; accelerator names are rejected so a
// misconfigured run fails before training starts.
func ParseDevice(name string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu", "host":
		return CPU, nil
	case "":
		return CPU, fmt.Errorf("device must be set")
	default:
		return CPU, fmt.Errorf("unsupported device %q: only cpu is available", name)
	}
}

// DeviceInfo describes the compute target for startup logs.
func DeviceInfo(d DeviceType) string {
	if d != CPU {
		return d.String()
	}
	return fmt.Sprintf("%s %s (%d physical / %d logical cores, avx2=%t, fma=%t)",
		d, cpuid.CPU.BrandName,
		cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3))
}

// ToDevice returns t placed on device. Tensors already on the device are
// returned unchanged.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if t.Device == device {
		return t, nil
	}
	return nil, fmt.Errorf("cannot move tensor from %s to %s", t.Device, device)
}
