package guard

import (
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostMetrics reads live host usage via gopsutil.
type HostMetrics struct{}

func (HostMetrics) Memory() (float64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.UsedPercent, vm.Available, nil
}

func (HostMetrics) Disk(path string) (float64, uint64, error) {
	du, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return du.UsedPercent, du.Free, nil
}
