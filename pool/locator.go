package pool

import (
	"fmt"
	"strings"
)

// Locator is a contiguous range of slots handed to one task. It is only
// created by Pool.RequestSlots, so the range always lies inside the pool.
type Locator struct {
	pool   *Pool
	offset int
	extent int
}

func (l *Locator) Offset() int { return l.offset }
func (l *Locator) Extent() int { return l.extent }
func (l *Locator) Pool() *Pool { return l.pool }

// Slot returns the i-th slot of the range.
func (l *Locator) Slot(i int) *Slot {
	if i < 0 || i >= l.extent {
		panic(fmt.Sprintf("locator index %d out of range [0,%d)", i, l.extent))
	}
	return l.pool.slots[l.offset+i]
}

// FirstHost is the host of the first slot, where single-host backends launch.
func (l *Locator) FirstHost() string {
	return l.Slot(0).Host()
}

// FirstRange is the physical core range of the first slot, for numactl.
func (l *Locator) FirstRange() string {
	return l.Slot(0).Location().PhysCore
}

// Hosts lists the host of every slot in the range, one entry per slot.
func (l *Locator) Hosts() []string {
	out := make([]string, l.extent)
	for i := range out {
		out[i] = l.Slot(i).Host()
	}
	return out
}

func (l *Locator) String() string {
	hosts := make([]string, l.extent)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("%d:%s", l.offset+i, l.Slot(i).Host())
	}
	return fmt.Sprintf("Locator: size=%d offset=%d [%s]", l.extent, l.offset, strings.Join(hosts, " "))
}
