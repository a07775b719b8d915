// Package hosts discovers the compute slots of the current batch allocation
// and describes them as an ordered list of Locations, one per slot.
package hosts

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
)

// Location is one schedulable slot, typically one core, on a host.
type Location struct {
	Host     string // host name, with any domain tag applied
	HostNum  int    // index of the host within the allocation
	TaskLoc  int    // slot index within the host, used for gpu pinning
	PhysCore string // core range handed to numactl, ex: "3-3"
}

func (l Location) String() string {
	return fmt.Sprintf("%s[%d] loc=%d core=%s", l.Host, l.HostNum, l.TaskLoc, l.PhysCore)
}

// List accumulates Locations in allocation order.
type List struct {
	tag         string
	locations   []Location
	uniqueHosts []string
}

// NewList returns an empty List. A non-empty tag, ex: ".frontera.tacc.utexas.edu",
// is appended to every host name that does not already contain it.
func NewList(tag string) *List {
	return &List{tag: tag}
}

func (h *List) Append(loc Location) {
	if h.tag != "" && !strings.Contains(loc.Host, h.tag) {
		loc.Host = loc.Host + h.tag
	}
	if !containsString(h.uniqueHosts, loc.Host) {
		h.uniqueHosts = append(h.uniqueHosts, loc.Host)
	}
	h.locations = append(h.locations, loc)
}

func (h *List) Len() int {
	return len(h.locations)
}

// Locations returns a copy of the accumulated slots.
func (h *List) Locations() []Location {
	out := make([]Location, len(h.locations))
	copy(out, h.locations)
	return out
}

// UniqueHosts returns host names in order of first appearance.
func (h *List) UniqueHosts() []string {
	out := make([]string, len(h.uniqueHosts))
	copy(out, h.uniqueHosts)
	return out
}

func (h *List) String() string {
	return spew.Sdump(h.locations)
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// Getenv looks up an environment variable. Discovery takes one so tests can
// fake a batch environment.
type Getenv func(key string) (string, bool)

// OsGetenv reads the real process environment.
func OsGetenv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// LocalHostName returns the name of this machine, or "localhost".
func LocalHostName() string {
	name, err := os.Hostname()
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Info("could not read hostname, using localhost")
		return "localhost"
	}
	return name
}
