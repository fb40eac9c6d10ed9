// Package gpu abstracts point-in-time queries of GPU memory state.
// A Probe is a pure read: it never reserves or frees anything, and a failed
// query for one device must not affect queries for another.
package gpu

import "fmt"

// Memory is a byte count.
type Memory uint64

// MemInfo is one reading of a device's memory state.
type MemInfo struct {
	// Free is the memory not currently allocated by any process.
	Free Memory
	// Total is the device's capacity.
	Total Memory
}

// Used returns the allocated portion of the reading.
func (m MemInfo) Used() Memory { return m.Total - m.Free }

// Probe queries GPU devices. Implementations must be safe for use from a
// single goroutine; the dispatcher never probes concurrently.
type Probe interface {
	// Devices lists the ids of the devices visible to this probe.
	Devices() ([]int, error)

	// MemInfo returns the current memory state of the given device.
	// An error means "unavailable this cycle", not a terminal condition.
	MemInfo(id int) (MemInfo, error)
}

// ErrNoDevice is returned by probes for ids they do not know about.
type ErrNoDevice struct {
	ID int
}

func (e ErrNoDevice) Error() string {
	return fmt.Sprintf("no such gpu device: %d", e.ID)
}
