package monitor

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type hostSampler interface {
	Sample(ctx context.Context) SystemStats
}

type systemSampler struct{}

// cpuSensorPrefixes names the hwmon chips that report package temperature.
var cpuSensorPrefixes = []string{"coretemp", "k10temp", "zenpower", "cpu_thermal", "x86_pkg_temp"}

func (systemSampler) Sample(ctx context.Context) SystemStats {
	var s SystemStats

	if avg, err := load.AvgWithContext(ctx); err == nil {
		cores, err := cpu.CountsWithContext(ctx, true)
		if err != nil || cores < 1 {
			cores = 1
		}
		s.CPULoad = clampPercent(avg.Load1 / float64(cores) * 100)
	} else {
		log.Debug("load average unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		used := vm.Total - vm.Available
		s.RAMTotal = uint32(vm.Total >> 20)
		s.RAMUsed = uint32(used >> 20)
		s.RAMPercent = clampPercent(float64(used) / float64(vm.Total) * 100)
	} else if err != nil {
		log.Debug("memory stats unavailable", "error", err)
	}

	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		log.Debug("temperature sensors unavailable", "error", err)
	}
	s.CPUTemp = cpuTemperature(temps)
	return s
}

// cpuTemperature prefers a known CPU sensor and otherwise takes the first
// reading.
func cpuTemperature(temps []host.TemperatureStat) uint32 {
	for _, prefix := range cpuSensorPrefixes {
		for _, t := range temps {
			if strings.HasPrefix(t.SensorKey, prefix) && t.Temperature > 0 {
				return uint32(t.Temperature)
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return uint32(t.Temperature)
		}
	}
	return 0
}
