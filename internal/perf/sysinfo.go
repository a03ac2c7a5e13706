package perf

import (
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo captures the machine a benchmark ran on, so recorded
// results stay comparable.
type SystemInfo struct {
	Hostname       string `json:"hostname"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	GoVersion      string `json:"go_version"`
	CPUModel       string `json:"cpu_model"`
	PhysicalCores  int    `json:"physical_cores"`
	LogicalCores   int    `json:"logical_cores"`
	TotalMemBytes  uint64 `json:"total_mem_bytes"`
	HasAVX2        bool   `json:"has_avx2"`
	HasAVX512      bool   `json:"has_avx512"`
	CacheLineBytes int    `json:"cache_line_bytes"`
}

// CollectSystemInfo gathers the host description. Fields that cannot be
// determined stay zero; collection never fails the caller.
func CollectSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		GoVersion:      runtime.Version(),
		LogicalCores:   runtime.NumCPU(),
		CPUModel:       cpuid.CPU.BrandName,
		PhysicalCores:  cpuid.CPU.PhysicalCores,
		HasAVX2:        cpuid.CPU.Supports(cpuid.AVX2),
		HasAVX512:      cpuid.CPU.Supports(cpuid.AVX512F),
		CacheLineBytes: cpuid.CPU.CacheLine,
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemBytes = vm.Total
	}

	return info
}
