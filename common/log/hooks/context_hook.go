package hooks

import (
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Frames belonging to logrus itself or to this hook are skipped when looking
// for the caller that emitted the entry.
var skipPrefixes = []string{
	"github.com/sirupsen/logrus",
	"github.com/twitter/launcher/common/log/hooks.contextHook",
}

type contextHook struct {
	maxDepth int
}

// NewContextHook returns a hook that adds a "file:line" field naming the
// launcher source line that produced the log entry.
func NewContextHook() contextHook {
	return contextHook{maxDepth: 25}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	pcs := make([]uintptr, hook.maxDepth)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skipped(frame.Function) {
			entry.Data["file:line"] = trimPath(frame.File) + ":" + strconv.Itoa(frame.Line)
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skipped(fn string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// Keep the path relative to the repo root when we can find it.
func trimPath(file string) string {
	ctx := strings.Split(file, "launcher/")
	return strings.TrimSpace(ctx[len(ctx)-1])
}
