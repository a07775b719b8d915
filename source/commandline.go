package source

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BarrierToken on a line of its own marks a synchronization point.
const BarrierToken = "__barrier__"

// Commandline is one command together with the number of slots it needs.
type Commandline struct {
	Command string
	Cores   int
}

func (c Commandline) String() string {
	return fmt.Sprintf("command=<<%s>>, cores=%d", c.Command, c.Cores)
}

// Validate rejects commandlines that can never be scheduled.
func (c Commandline) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("empty command")
	}
	if c.Cores < 1 {
		return errors.Errorf("command %q needs a positive core count, got %d", c.Command, c.Cores)
	}
	return nil
}

type ItemKind int

const (
	CommandItem ItemKind = iota
	BarrierItem
)

// Item is what a Source produces: a command to run, or a barrier.
type Item struct {
	Kind        ItemKind
	Commandline Commandline
}

func Command(command string, cores int) Item {
	return Item{Kind: CommandItem, Commandline: Commandline{Command: command, Cores: cores}}
}

func Barrier() Item {
	return Item{Kind: BarrierItem}
}

func (i Item) IsBarrier() bool { return i.Kind == BarrierItem }

func (i Item) String() string {
	if i.IsBarrier() {
		return BarrierToken
	}
	return i.Commandline.String()
}
