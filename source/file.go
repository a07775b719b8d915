package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// CoresFromFile reads a "count,command" prefix on every line.
	CoresFromFile = "file"

	// CoresPerNode gives every command a whole node.
	CoresPerNode = "node"

	DefaultSchedule = "default"
)

var (
	corePrefix = regexp.MustCompile(`^([0-9]+),(.*)$`)
	blockSpec  = regexp.MustCompile(`^block([0-9]+)$`)
)

// FileOptions control how a command file is turned into items.
type FileOptions struct {
	// "N" for a uniform count, CoresFromFile or CoresPerNode. Empty means "1".
	Cores string `mapstructure:"cores" yaml:"cores"`

	// Required when Cores is CoresPerNode.
	CoresPerNode int `mapstructure:"cores_per_node" yaml:"cores_per_node"`

	// DefaultSchedule, or "blockK" to chain K consecutive lines into one command.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	// Stop after this many items, zero for no limit.
	Cap int `mapstructure:"cap" yaml:"cap"`
}

// coreSpec resolves the uniform core count, or 0 when counts come per line.
func (o FileOptions) coreSpec() (int, error) {
	switch o.Cores {
	case "":
		return 1, nil
	case CoresFromFile:
		return 0, nil
	case CoresPerNode:
		if o.CoresPerNode < 1 {
			return 0, errors.New("core spec \"node\" needs cores per node")
		}
		return o.CoresPerNode, nil
	}
	n, err := strconv.Atoi(o.Cores)
	if err != nil || n < 1 {
		return 0, errors.Errorf("strange core spec: %q", o.Cores)
	}
	return n, nil
}

// BlockSize parses a schedule into the number of lines chained per command.
func BlockSize(schedule string) (int, error) {
	if schedule == "" || schedule == DefaultSchedule {
		return 1, nil
	}
	m := blockSpec.FindStringSubmatch(schedule)
	if m == nil {
		return 0, errors.Errorf("could not parse schedule %q", schedule)
	}
	n, _ := strconv.Atoi(m[1])
	if n < 1 {
		return 0, errors.Errorf("invalid block size %d from schedule %q", n, schedule)
	}
	return n, nil
}

// NewFile reads a command file into a fixed source.
func NewFile(path string, opts FileOptions) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening command file")
	}
	defer f.Close()
	items, err := ParseCommands(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	log.WithFields(log.Fields{
		"path":  path,
		"items": len(items),
		"cores": opts.Cores,
	}).Info("read command file")
	return NewList(items, opts.Cap)
}

// ParseCommands skips blank and '#' lines, recognizes BarrierToken, reads
// per-line core counts when asked to, and chains lines into blocks. A final
// block with fewer lines than the block size is dropped.
func ParseCommands(r io.Reader, opts FileOptions) ([]Item, error) {
	cores, err := opts.coreSpec()
	if err != nil {
		return nil, err
	}
	blocksize, err := BlockSize(opts.Schedule)
	if err != nil {
		return nil, err
	}

	var items []Item
	var block []string
	blockCores := cores
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == BarrierToken {
			if len(block) > 0 {
				items = append(items, Command(strings.Join(block, " && "), blockCores))
				block = nil
			}
			items = append(items, Barrier())
			continue
		}
		if opts.Cores == CoresFromFile {
			m := corePrefix.FindStringSubmatch(line)
			if m == nil {
				return nil, errors.Errorf("line %d: can not parse line as having a core prefix: %q", lineno, line)
			}
			n, _ := strconv.Atoi(m[1])
			if n < 1 {
				return nil, errors.Errorf("line %d: core count must be positive: %q", lineno, line)
			}
			blockCores = n
			line = strings.TrimSpace(m[2])
		}
		block = append(block, line)
		if len(block) < blocksize {
			continue
		}
		items = append(items, Command(strings.Join(block, " && "), blockCores))
		block = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading commands")
	}
	if len(block) > 0 {
		log.WithFields(log.Fields{
			"lines":     len(block),
			"blocksize": blocksize,
		}).Warn("dropping incomplete trailing block")
	}
	return items, nil
}

// Section headers of a queue state file.
const (
	QueuedHeader    = "queued"
	RunningHeader   = "running"
	CompletedHeader = "completed"
)

// NewStateFile restores the queued and running commands recorded in a queue
// state file by an earlier run. Completed commands are skipped.
func NewStateFile(path string, cores int) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening state file")
	}
	defer f.Close()
	items, err := ParseState(f, cores)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	log.WithFields(log.Fields{
		"path":  path,
		"items": len(items),
	}).Info("restored commands from state file")
	return NewList(items, 0)
}

// StateLine renders one task of a queue state file. Multi-core tasks, and
// commands that would otherwise read as one, carry a "<cores>," prefix.
func StateLine(id, cores int, command string) string {
	if cores != 1 || corePrefix.MatchString(command) {
		return fmt.Sprintf("%d: %d,%s", id, cores, command)
	}
	return fmt.Sprintf("%d: %s", id, command)
}

// ParseState reads "<id>: [<cores>,]<command>" lines under the queued and
// running headers. With cores < 1 the recorded count is used, defaulting to
// one; otherwise every command gets cores.
func ParseState(r io.Reader, cores int) ([]Item, error) {
	var items []Item
	skipping := false
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, QueuedHeader), strings.HasPrefix(line, RunningHeader):
			skipping = false
			continue
		case strings.HasPrefix(line, CompletedHeader):
			skipping = true
			continue
		}
		if skipping {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("line %d: expected \"<id>: <command>\", got %q", lineno, line)
		}
		if _, err := strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
			return nil, errors.Errorf("line %d: bad task id %q", lineno, parts[0])
		}
		command := strings.TrimSpace(parts[1])
		n := 1
		if m := corePrefix.FindStringSubmatch(command); m != nil {
			n, _ = strconv.Atoi(m[1])
			if n < 1 {
				return nil, errors.Errorf("line %d: bad core count %q", lineno, m[1])
			}
			command = m[2]
		}
		if cores > 0 {
			n = cores
		}
		items = append(items, Command(command, n))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading state")
	}
	return items, nil
}
