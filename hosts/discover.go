package hosts

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Discovery types.
const (
	AutoType  = "auto"
	SlurmType = "slurm"
	PBSType   = "pbs"
	SGEType   = "sge"
	ListType  = "list"
	LocalType = "local"
)

// Config selects and parameterizes host discovery.
type Config struct {
	Type        string   `mapstructure:"type" yaml:"type"`
	Tag         string   `mapstructure:"tag" yaml:"tag"`
	Cores       string   `mapstructure:"cores" yaml:"cores"`                 // uniform per-task core count, or "file"/"node"
	GPUsPerNode int      `mapstructure:"gpus_per_node" yaml:"gpus_per_node"` // shrinks slots per node to the gpu count
	Hosts       []string `mapstructure:"hosts" yaml:"hosts"`                 // list type
	PPN         int      `mapstructure:"ppn" yaml:"ppn"`                     // list type, slots per listed host
	NHosts      int      `mapstructure:"nhosts" yaml:"nhosts"`               // local type
}

func (c Config) String() string {
	return fmt.Sprintf("hosts.Config: Type: %s, Tag: %q, Cores: %s, GPUsPerNode: %d, Hosts: %v, PPN: %d, NHosts: %d",
		c.Type, c.Tag, c.Cores, c.GPUsPerNode, c.Hosts, c.PPN, c.NHosts)
}

// Discover builds the slot list for the configured environment. The auto type
// probes SLURM, then PBS, then SGE, and falls back to one local slot.
func Discover(cfg Config, getenv Getenv) (*List, error) {
	if getenv == nil {
		getenv = OsGetenv
	}
	kind := cfg.Type
	if kind == "" || kind == AutoType {
		kind = probe(getenv)
		log.WithFields(log.Fields{"type": kind}).Info("detected host environment")
	}

	var list *List
	var err error
	switch kind {
	case SlurmType:
		list, err = Slurm(cfg, getenv)
	case PBSType:
		list, err = PBS(cfg.Tag, getenv)
	case SGEType:
		list, err = SGE(cfg.Tag, getenv)
	case ListType:
		list, err = FromList(cfg.Hosts, cfg.PPN, cfg.Tag)
	case LocalType:
		n := cfg.NHosts
		if n <= 0 {
			n = 1
		}
		list = Local(n)
	default:
		return nil, fmt.Errorf("unknown host discovery type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if list.Len() == 0 {
		return nil, fmt.Errorf("host discovery %q found no slots", kind)
	}
	log.WithFields(log.Fields{
		"type":  kind,
		"slots": list.Len(),
		"hosts": len(list.UniqueHosts()),
	}).Info("discovered hosts")
	log.Debug(list)
	return list, nil
}

func probe(getenv Getenv) string {
	if _, ok := getenv("SLURM_NODELIST"); ok {
		return SlurmType
	}
	if _, ok := getenv("PBS_NODEFILE"); ok {
		return PBSType
	}
	if _, ok := getenv("PE_HOSTFILE"); ok {
		return SGEType
	}
	return LocalType
}

var firstInt = regexp.MustCompile(`[0-9]+`)

// SlurmCoresPerNode reads SLURM_CPUS_ON_NODE, ex: "56" or "56(x2)", falling
// back to SLURM_NPROCS / SLURM_NNODES.
func SlurmCoresPerNode(getenv Getenv) (int, error) {
	if spec, ok := getenv("SLURM_CPUS_ON_NODE"); ok {
		if m := firstInt.FindString(spec); m != "" {
			return strconv.Atoi(m)
		}
		return 0, fmt.Errorf("could not parse SLURM_CPUS_ON_NODE=%q", spec)
	}
	nprocs, err := intEnv(getenv, "SLURM_NPROCS")
	if err != nil {
		return 0, err
	}
	nnodes, err := intEnv(getenv, "SLURM_NNODES")
	if err != nil {
		return 0, err
	}
	if nnodes == 0 {
		return 0, fmt.Errorf("SLURM_NNODES is zero")
	}
	return nprocs / nnodes, nil
}

func intEnv(getenv Getenv, key string) (int, error) {
	v, ok := getenv(key)
	if !ok {
		return 0, fmt.Errorf("%s is not set", key)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", key)
	}
	return i, nil
}

// Slurm lists every core of every node in SLURM_NODELIST.
func Slurm(cfg Config, getenv Getenv) (*List, error) {
	coresPerNode, err := SlurmCoresPerNode(getenv)
	if err != nil {
		return nil, err
	}
	if cfg.GPUsPerNode > 0 {
		coresPerNode = cfg.GPUsPerNode
	} else if cores, err := strconv.Atoi(cfg.Cores); err == nil && cores > 0 {
		// Leave no partial task at the end of a node.
		coresPerNode -= coresPerNode % cores
	}

	nodelist, ok := getenv("SLURM_NODELIST")
	if !ok {
		return nil, fmt.Errorf("SLURM_NODELIST is not set")
	}
	nodes, err := ExpandHostlist(nodelist)
	if err != nil {
		return nil, err
	}

	list := NewList(cfg.Tag)
	for inode, node := range nodes {
		for itask := 0; itask < coresPerNode; itask++ {
			list.Append(Location{
				Host:     node,
				HostNum:  inode,
				TaskLoc:  itask,
				PhysCore: fmt.Sprintf("%d-%d", itask, itask),
			})
		}
	}
	log.WithFields(log.Fields{
		"coresPerNode": coresPerNode,
		"nodes":        len(nodes),
	}).Info("using SLURM host list")
	return list, nil
}

// PBS lists one slot per line of PBS_NODEFILE.
func PBS(tag string, getenv Getenv) (*List, error) {
	lines, err := readEnvFile(getenv, "PBS_NODEFILE")
	if err != nil {
		return nil, err
	}
	list := NewList(tag)
	for _, line := range lines {
		list.Append(Location{Host: line, HostNum: 1})
	}
	return list, nil
}

// SGE expands "<host> <slots> ..." lines of PE_HOSTFILE.
func SGE(tag string, getenv Getenv) (*List, error) {
	lines, err := readEnvFile(getenv, "PE_HOSTFILE")
	if err != nil {
		return nil, err
	}
	list := NewList(tag)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed PE_HOSTFILE line %q", line)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed PE_HOSTFILE line %q", line)
		}
		for i := 0; i < n; i++ {
			list.Append(Location{Host: fields[0], HostNum: i})
		}
	}
	return list, nil
}

// FromList repeats each host ppn times.
func FromList(hostnames []string, ppn int, tag string) (*List, error) {
	if len(hostnames) == 0 {
		return nil, fmt.Errorf("explicit host list is empty")
	}
	if ppn <= 0 {
		ppn = 1
	}
	list := NewList(tag)
	for ihost, h := range hostnames {
		for p := 0; p < ppn; p++ {
			list.Append(Location{Host: h, HostNum: ihost, TaskLoc: p, PhysCore: fmt.Sprintf("%d-%d", p, p)})
		}
	}
	return list, nil
}

// Local lists n slots on this machine.
func Local(n int) *List {
	host := LocalHostName()
	list := NewList("")
	for i := 0; i < n; i++ {
		list.Append(Location{Host: host, TaskLoc: i, PhysCore: "0-0"})
	}
	return list
}

func readEnvFile(getenv Getenv, key string) ([]string, error) {
	name, ok := getenv(key)
	if !ok {
		return nil, fmt.Errorf("%s is not set", key)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", key)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, errors.Wrapf(scanner.Err(), "reading %s", name)
}

// JobID returns the batch job id, or "" outside a batch job.
func JobID(getenv Getenv) string {
	if getenv == nil {
		getenv = OsGetenv
	}
	for _, key := range []string{"SLURM_JOB_ID", "PBS_JOBID"} {
		if v, ok := getenv(key); ok && v != "" {
			return v
		}
	}
	return ""
}
