// Package tuning picks default worker pool sizes from the host's cores and memory.
package tuning

import (
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

const (
	// splitMemoryPerWorker is the memory budget of one archive split worker.
	// Dump archives decompress to a few GiB and are streamed, but the
	// decompressor and write buffers still cost a few hundred MiB each.
	splitMemoryPerWorker = 512 << 20

	// extractPerCore is the number of extraction workers per physical core.
	// Extraction alternates small reads, parsing and renames.
	extractPerCore = 4

	maxDownloadWorkers = 4
)

// Host describes the resources pool sizes are derived from.
type Host struct {
	LogicalCPUs  int
	PhysicalCPUs int
	TotalMemory  uint64
}

// Workers holds a pool size per pipeline stage.
type Workers struct {
	Split    int
	Extract  int
	Download int
}

// Detect inspects the current host.
func Detect() Host {
	nCPU := runtime.NumCPU()
	physical := nCPU
	if cpuid.CPU.ThreadsPerCore > 1 {
		physical = nCPU / cpuid.CPU.ThreadsPerCore
	}
	if physical < 1 {
		physical = 1
	}
	return Host{
		LogicalCPUs:  nCPU,
		PhysicalCPUs: physical,
		TotalMemory:  memory.TotalMemory(),
	}
}

// Recommend returns pool sizes for h.
func Recommend(h Host) Workers {
	split := h.PhysicalCPUs
	if h.TotalMemory > 0 {
		if byMem := int(h.TotalMemory / splitMemoryPerWorker / 2); byMem < split {
			split = byMem
		}
	}

	download := h.PhysicalCPUs
	if download > maxDownloadWorkers {
		download = maxDownloadWorkers
	}

	return Workers{
		Split:    max(split, 1),
		Extract:  max(h.PhysicalCPUs*extractPerCore, 1),
		Download: max(download, 1),
	}
}
