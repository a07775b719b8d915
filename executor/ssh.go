package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/pool"
)

// Numactl bindings.
const (
	NumactlCore = "core"
	NumactlGPU  = "gpu"
)

// ErrNoSession is returned when a command targets a host that was never set up.
var ErrNoSession = errors.New("no ssh session to host")

type SSHOptions struct {
	// "", NumactlCore or NumactlGPU.
	Numactl string `mapstructure:"numactl" yaml:"numactl,omitempty"`

	// Defaults to $USER.
	User string `mapstructure:"user" yaml:"user,omitempty"`

	Port int `mapstructure:"port" yaml:"port"`

	// Connect timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Empty accepts any host key.
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`

	// Private keys tried after the ssh agent.
	IdentityFiles []string `mapstructure:"identity_files" yaml:"identity_files,omitempty"`

	// Wait before the single retry of a failed exec.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

func (o SSHOptions) String() string {
	return fmt.Sprintf("numactl=%q user=%s port=%d timeout=%s known_hosts=%q retry_delay=%s",
		o.Numactl, o.User, o.Port, o.Timeout, o.KnownHosts, o.RetryDelay)
}

// SSHClient starts a command on a remote host without waiting for it.
type SSHClient interface {
	Start(command string) error
	Close() error
}

// Dialer opens an SSHClient to host.
type Dialer func(host string) (SSHClient, error)

// SSHExecutor runs commands on the first host of a task's slot range over
// one ssh connection per unique host. The local working directory, umask
// and environment are replayed in front of every command.
type SSHExecutor struct {
	scripts *Scripts
	opts    SSHOptions
	dial    Dialer
	env     string
	clients map[string]SSHClient
	owners  map[string]int
	stat    stats.StatsReceiver
}

// NewSSHExecutor uses dial to open connections; nil dials with x/crypto/ssh
// per opts. env is replayed before every command, see LocalEnvironment.
func NewSSHExecutor(opts Options, sshOpts SSHOptions, env string, dial Dialer, stat stats.StatsReceiver) (*SSHExecutor, error) {
	switch sshOpts.Numactl {
	case "", NumactlCore, NumactlGPU:
	default:
		return nil, errors.Errorf("unknown numactl: %s", sshOpts.Numactl)
	}
	if sshOpts.RetryDelay == 0 {
		sshOpts.RetryDelay = 3 * time.Second
	}
	scripts, err := NewScripts(opts)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		if dial, err = NewSSHDialer(sshOpts); err != nil {
			return nil, err
		}
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.WithFields(log.Fields{"options": opts, "ssh": sshOpts}).Info("created ssh executor")
	return &SSHExecutor{
		scripts: scripts,
		opts:    sshOpts,
		dial:    dial,
		env:     env,
		clients: map[string]SSHClient{},
		owners:  map[string]int{},
		stat:    stat.Scope("executor"),
	}, nil
}

func (e *SSHExecutor) Scripts() *Scripts { return e.scripts }

// SetupOnResource opens a connection to the slot's host, or reuses the one
// an earlier slot on that host opened.
func (e *SSHExecutor) SetupOnResource(slot *pool.Slot) error {
	host := slot.Host()
	if _, ok := e.clients[host]; ok {
		log.WithFields(log.Fields{"host": host, "slot": slot.Index()}).Debug("reusing ssh client")
		return nil
	}
	log.WithFields(log.Fields{"host": host, "slot": slot.Index()}).Debug("making ssh client")
	client, err := e.dial(host)
	if err != nil {
		return errors.Wrapf(err, "ssh client to %s", host)
	}
	e.clients[host] = client
	e.owners[host] = slot.Index()
	e.stat.Gauge(stats.ExecutorSSHClientGauge).Update(int64(len(e.clients)))
	return nil
}

// ReleaseFromResource closes a connection when the slot that opened it is
// released.
func (e *SSHExecutor) ReleaseFromResource(slot *pool.Slot) error {
	host := slot.Host()
	if owner, ok := e.owners[host]; !ok || owner != slot.Index() {
		return nil
	}
	return e.close(host)
}

func (e *SSHExecutor) close(host string) error {
	client := e.clients[host]
	delete(e.clients, host)
	delete(e.owners, host)
	e.stat.Gauge(stats.ExecutorSSHClientGauge).Update(int64(len(e.clients)))
	if err := client.Close(); err != nil {
		return errors.Wrapf(err, "closing ssh client to %s", host)
	}
	return nil
}

func (e *SSHExecutor) bindingPrefix(loc *pool.Locator) string {
	switch e.opts.Numactl {
	case NumactlCore:
		return fmt.Sprintf("numactl -C %s ", loc.FirstRange())
	case NumactlGPU:
		return fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d ", loc.Slot(0).Location().TaskLoc)
	default:
		return ""
	}
}

func (e *SSHExecutor) Execute(ctx context.Context, command string, loc *pool.Locator, taskID int) error {
	defer e.stat.Latency(stats.ExecutorExecLatency_ms).Time().Stop()
	host := loc.FirstHost()
	client, ok := e.clients[host]
	if !ok {
		return errors.Wrapf(ErrNoSession, "host %s", host)
	}
	wrapped, err := e.scripts.Wrap(e.env+command+"\n", e.bindingPrefix(loc))
	if err != nil {
		return err
	}
	remote := fmt.Sprintf("( %s ) &", wrapped)
	log.WithFields(log.Fields{
		"taskID":      taskID,
		"host":        host,
		"commandline": remote,
	}).Debug("ssh execution")

	try := 1
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.RetryDelay), 1), ctx)
	err = backoff.Retry(func() error {
		if try > 1 {
			e.stat.Counter(stats.ExecutorSSHRetryCounter).Inc(1)
			log.WithFields(log.Fields{"taskID": taskID, "host": host}).Info("retrying ssh exec")
		}
		try++
		return client.Start(remote)
	}, b)
	if err != nil {
		e.stat.Counter(stats.ExecutorExecErrCounter).Inc(1)
		return errors.Wrapf(err, "ssh exec on %s", host)
	}
	e.stat.Counter(stats.ExecutorExecCounter).Inc(1)
	return nil
}

// Terminate closes connections whose slots were never released.
func (e *SSHExecutor) Terminate() error {
	var first error
	for host := range e.clients {
		if err := e.close(host); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type sshClient struct {
	host   string
	client *ssh.Client
}

// Start runs command in a new session and closes the session in the
// background once the remote shell exits.
func (c *sshClient) Start(command string) error {
	session, err := c.client.NewSession()
	if err != nil {
		return err
	}
	if err := session.Start(command); err != nil {
		session.Close()
		return err
	}
	go func() {
		if err := session.Wait(); err != nil {
			log.WithFields(log.Fields{"host": c.host, "err": err}).Debug("ssh session ended with error")
		}
		session.Close()
	}()
	return nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// NewSSHDialer builds a Dialer that authenticates with the ssh agent, if
// one is running, then with the identity files that can be read.
func NewSSHDialer(opts SSHOptions) (Dialer, error) {
	user := opts.User
	if user == "" {
		user = os.Getenv("USER")
	}
	port := opts.Port
	if port == 0 {
		port = 22
	}

	var auth []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			log.WithFields(log.Fields{"sock": sock, "err": err}).Info("ssh agent not reachable")
		}
	}
	var signers []ssh.Signer
	for _, path := range identityFiles(opts.IdentityFiles) {
		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			log.WithFields(log.Fields{"file": path, "err": err}).Info("skipping identity file")
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh agent or identity file to authenticate with")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, errors.Wrapf(err, "reading known hosts %s", opts.KnownHosts)
		}
		hostKey = cb
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}
	return func(host string) (SSHClient, error) {
		client, err := ssh.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)), config)
		if err != nil {
			return nil, err
		}
		return &sshClient{host: host, client: client}, nil
	}, nil
}

func identityFiles(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	}
}
