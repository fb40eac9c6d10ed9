// Package gpufake provides a scripted gpu.Probe for tests. Each device is
// given a sequence of readings; successive MemInfo calls consume the
// sequence and the last reading repeats forever. A Fail reading simulates
// a probe failure for that cycle.
package gpufake

import (
	"sync"

	"github.com/Willam-Ni/easyFL/gpu"
)

// Reading is one scripted probe result. Err takes precedence over Mem.
type Reading struct {
	Mem gpu.MemInfo
	Err error
}

// Free is shorthand for a successful reading with the given free memory.
func Free(free, total gpu.Memory) Reading {
	return Reading{Mem: gpu.MemInfo{Free: free, Total: total}}
}

// Fail is shorthand for a failed reading.
func Fail(err error) Reading { return Reading{Err: err} }

type Probe struct {
	mu      sync.Mutex
	scripts map[int][]Reading
	cursor  map[int]int
}

func NewProbe() *Probe {
	return &Probe{scripts: map[int][]Reading{}, cursor: map[int]int{}}
}

// Script sets the reading sequence for a device, replacing any prior script
// and resetting its cursor.
func (p *Probe) Script(id int, readings ...Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[id] = readings
	p.cursor[id] = 0
}

func (p *Probe) Devices() ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := []int{}
	for id := range p.scripts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Probe) MemInfo(id int) (gpu.MemInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	script, ok := p.scripts[id]
	if !ok || len(script) == 0 {
		return gpu.MemInfo{}, gpu.ErrNoDevice{ID: id}
	}
	i := p.cursor[id]
	if i < len(script)-1 {
		p.cursor[id] = i + 1
	}
	r := script[i]
	if r.Err != nil {
		return gpu.MemInfo{}, r.Err
	}
	return r.Mem, nil
}
