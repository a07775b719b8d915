// Package source produces the stream of commands a launcher job schedules.
//
// A Source is in one of three production states: it can produce an item
// now, it is stalling (nothing buffered but more may arrive), or it is
// stopping (nothing more will be produced). Next may only be called while
// neither Stalling nor Stopping holds.
package source

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotReady is returned by Next while the source is stalling or stopping.
	ErrNotReady = errors.New("next called while stalling or stopping")

	// ErrFinished is returned by Append once Finish has been called.
	ErrFinished = errors.New("source already finished")
)

type Source interface {
	// Pop the next item.
	Next() (Item, error)

	// Nothing is buffered but more items may still arrive.
	Stalling() bool

	// No more items will be produced.
	Stopping() bool

	// Stopping, and no further items can ever be added.
	Exhausted() bool

	// Stop producing even if items remain.
	Abort()
}

// Poller is implemented by sources that gather new items from the outside
// world. The job calls Poll once per tick before consulting the source.
type Poller interface {
	Poll() error
}

// Buffer is the Source implementation shared by every variant: a list of
// pending items, an optional cap on how many are handed out, and for
// dynamic buffers an explicit finish.
//
// Dynamic buffers may be appended to from other goroutines while the job
// loop consumes them, so all state is guarded.
type Buffer struct {
	mu       sync.Mutex
	items    []Item
	cap      int
	njobs    int
	dynamic  bool
	finished bool
	stopped  bool
}

// NewList returns a fixed source over items. A cap of zero means all items
// are produced; a positive cap stops the source after that many.
func NewList(items []Item, cap int) (*Buffer, error) {
	if len(items) == 0 && cap == 0 {
		return nil, errors.New("empty command list requires a cap")
	}
	if cap < 0 {
		return nil, errors.Errorf("invalid cap %d", cap)
	}
	for _, item := range items {
		if item.IsBarrier() {
			continue
		}
		if err := item.Commandline.Validate(); err != nil {
			return nil, err
		}
	}
	if cap == 0 {
		cap = len(items)
	}
	b := &Buffer{cap: cap, finished: true}
	b.items = append(b.items, items...)
	return b, nil
}

// NewCommands is NewList over plain commands that each take cores slots.
func NewCommands(commands []string, cores int) (*Buffer, error) {
	items := make([]Item, len(commands))
	for i, c := range commands {
		items[i] = Command(c, cores)
	}
	return NewList(items, 0)
}

// NewDynamic returns an unbounded source that accepts Append until Finish.
func NewDynamic(seed []Item) *Buffer {
	b := &Buffer{dynamic: true}
	b.items = append(b.items, seed...)
	return b
}

func (b *Buffer) Next() (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping() || b.stalling() {
		return Item{}, errors.Wrapf(ErrNotReady, "%d items buffered, %d produced", len(b.items), b.njobs)
	}
	item := b.items[0]
	b.items = b.items[1:]
	b.njobs++
	log.WithFields(log.Fields{
		"item":  item,
		"njobs": b.njobs,
	}).Debug("popped item")
	return item, nil
}

func (b *Buffer) Stalling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stalling()
}

func (b *Buffer) Stopping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping()
}

func (b *Buffer) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished && b.stopping()
}

func (b *Buffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.finished = true
}

// Append adds a command to a dynamic buffer.
func (b *Buffer) Append(item Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return errors.Wrapf(ErrFinished, "appending %s", item)
	}
	if !item.IsBarrier() {
		if err := item.Commandline.Validate(); err != nil {
			return err
		}
	}
	b.items = append(b.items, item)
	log.WithFields(log.Fields{
		"item":     item,
		"buffered": len(b.items),
	}).Debug("appended item")
	return nil
}

// Finish declares that no more items will be appended. It cannot be undone.
func (b *Buffer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finished {
		log.WithFields(log.Fields{
			"buffered": len(b.items),
		}).Info("command source finished")
	}
	b.finished = true
}

// Len is the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Produced is the number of items handed out by Next.
func (b *Buffer) Produced() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.njobs
}

func (b *Buffer) stopping() bool {
	if b.stopped {
		return true
	}
	if b.cap > 0 && b.njobs >= b.cap {
		return true
	}
	if len(b.items) == 0 {
		return !b.dynamic || b.finished
	}
	return false
}

func (b *Buffer) stalling() bool {
	return !b.stopping() && len(b.items) == 0
}
