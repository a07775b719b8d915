package executor

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/executor/execer"
)

// processes reaps started processes in the background. At Terminate an
// executor either lets go of the ones still alive or aborts them.
type processes struct {
	mu   sync.Mutex
	live map[execer.Process]string
	wg   sync.WaitGroup
}

func newProcesses() *processes {
	return &processes{live: map[execer.Process]string{}}
}

func (ps *processes) track(p execer.Process, tag string) {
	ps.mu.Lock()
	ps.live[p] = tag
	ps.mu.Unlock()
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		status := p.Wait()
		ps.mu.Lock()
		delete(ps.live, p)
		ps.mu.Unlock()
		log.WithFields(log.Fields{
			"pid":    p.Pid(),
			"tag":    tag,
			"status": status,
		}).Debug("launcher process exited")
	}()
}

func (ps *processes) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.live)
}

// release stops tracking live processes without signalling them. Their
// reapers keep running until the process exits or the launcher does.
func (ps *processes) release() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := len(ps.live)
	for p, tag := range ps.live {
		log.WithFields(log.Fields{
			"pid": p.Pid(),
			"tag": tag,
		}).Info("leaving launcher process running")
	}
	ps.live = map[execer.Process]string{}
	return n
}

func (ps *processes) abortAll() {
	ps.mu.Lock()
	live := make(map[execer.Process]string, len(ps.live))
	for p, tag := range ps.live {
		live[p] = tag
	}
	ps.mu.Unlock()
	for p, tag := range live {
		status := p.Abort()
		log.WithFields(log.Fields{
			"pid":    p.Pid(),
			"tag":    tag,
			"status": status,
		}).Info("aborted launcher process")
	}
	ps.wg.Wait()
}
