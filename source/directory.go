package source

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SettleTime is how long a command file must go unmodified before it is
// read. Writers that cannot finish a file within it should write elsewhere
// and rename it into place.
const SettleTime = time.Second

// Directory is a dynamic source fed by command files dropped into a
// directory. Files named "<root>-<N>" are read once each, in order of N,
// and every command line in them is appended. A file named
// "<root>-finished" finishes the source once every command file seen has
// been read.
type Directory struct {
	*Buffer
	dir       string
	root      string
	cores     int
	scheduled map[int]bool
	settle    time.Duration
	now       func() time.Time
}

func NewDirectory(dir, root string, cores int) (*Directory, error) {
	if root == "" || strings.ContainsAny(root, "/*?[{") {
		return nil, errors.Errorf("invalid command file root %q", root)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "command directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}
	if cores < 1 {
		cores = 1
	}
	return &Directory{
		Buffer:    NewDynamic(nil),
		dir:       dir,
		root:      root,
		cores:     cores,
		scheduled: map[int]bool{},
		settle:    SettleTime,
		now:       time.Now,
	}, nil
}

func (d *Directory) FinishName() string {
	return d.root + "-finished"
}

// Poll schedules any command files that appeared since the last call.
func (d *Directory) Poll() error {
	matches, err := doublestar.Glob(os.DirFS(d.dir), d.root+"-*")
	if err != nil {
		return errors.Wrapf(err, "listing %s", d.dir)
	}
	type commandFile struct {
		num  int
		name string
	}
	var fresh []commandFile
	finished := false
	for _, name := range matches {
		if name == d.FinishName() {
			finished = true
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(name, d.root+"-"))
		if err != nil {
			log.WithFields(log.Fields{
				"file": name,
			}).Debug("ignoring command file without a job number")
			continue
		}
		if !d.scheduled[num] {
			fresh = append(fresh, commandFile{num, name})
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].num < fresh[j].num })

	pending := 0
	for _, cf := range fresh {
		path := filepath.Join(d.dir, cf.name)
		info, err := os.Stat(path)
		if err == nil && d.now().Sub(info.ModTime()) < d.settle {
			pending++
			continue
		}
		var data []byte
		if err == nil {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			log.WithFields(log.Fields{
				"file": cf.name,
				"err":  err,
			}).Warn("skipping unreadable command file, will retry")
			pending++
			continue
		}
		d.scheduled[cf.num] = true
		n := 0
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			item := Command(line, d.cores)
			if line == BarrierToken {
				item = Barrier()
			}
			if err := d.Append(item); err != nil {
				return err
			}
			n++
		}
		log.WithFields(log.Fields{
			"file":     cf.name,
			"job":      cf.num,
			"commands": n,
		}).Info("scheduled command file")
	}
	if finished && pending == 0 {
		d.Finish()
	}
	return nil
}
