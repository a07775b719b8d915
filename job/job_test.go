package job

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor"
	osexecer "github.com/twitter/launcher/executor/execer/os"
	"github.com/twitter/launcher/hosts"
	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/source"
	"github.com/twitter/launcher/task"
)

// markers stands in for the completion files a wrapped command would touch.
type markers struct {
	mu   sync.Mutex
	done map[int]bool
	all  bool
}

func (m *markers) set(ids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.done[id] = true
	}
}

func (m *markers) factory(id int, _ time.Time) task.Completion {
	return &markerCompletion{id, m}
}

type markerCompletion struct {
	id int
	m  *markers
}

func (c *markerCompletion) Attach(command string) string { return command }
func (c *markerCompletion) Test() bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.m.all || c.m.done[c.id]
}

type fixture struct {
	job     *LauncherJob
	ex      *pool.MockExecutor
	markers *markers
	reg     stats.StatsRegistry
}

func newFixture(t *testing.T, ctrl *gomock.Controller, size int, src source.Source, config Configuration) *fixture {
	ex := pool.NewMockExecutor(ctrl)
	ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil).Times(size)
	ex.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	p, err := pool.NewPool(hosts.Local(size).Locations(), ex, nil)
	require.NoError(t, err)

	m := &markers{done: map[int]bool{}}
	reg := stats.NewFinagleStatsRegistry()
	stat := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg })
	config.DebugMode = true
	j, err := NewLauncherJob(config, p, src, task.Options{Completion: m.factory}, stat)
	require.NoError(t, err)
	return &fixture{job: j, ex: ex, markers: m, reg: reg}
}

func (f *fixture) tick(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, f.job.Tick(context.Background()))
	}
}

func runningIDs(j *LauncherJob) []int {
	var ids []int
	for _, t := range j.Queue().Running() {
		ids = append(ids, t.ID())
	}
	return ids
}

func Test_NewLauncherJob_ConfigFaults(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	ex := pool.NewMockExecutor(mockCtrl)
	ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil)
	p, err := pool.NewPool(hosts.Local(1).Locations(), ex, nil)
	require.NoError(t, err)
	src, err := source.NewCommands([]string{"a"}, 1)
	require.NoError(t, err)
	opts := task.Options{Completion: task.WrapFactory(t.TempDir())}

	_, err = NewLauncherJob(Configuration{}, nil, src, opts, nil)
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	_, err = NewLauncherJob(Configuration{}, p, nil, opts, nil)
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	_, err = NewLauncherJob(Configuration{}, p, src, task.Options{}, nil)
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	_, err = NewLauncherJob(Configuration{TaskMaxRuntime: -1}, p, src, opts, nil)
	assert.Error(t, err)
}

func Test_Job_Backfill(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src, err := source.NewList([]source.Item{source.Command("big", 3), source.Command("one", 1), source.Command("two", 2)}, 0)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 4, src, Configuration{})

	// one item enqueued per tick, admitted on the following tick
	f.tick(t, 4)
	assert.Equal(t, "0 0 0 1", f.job.Pool().Display())
	require.Len(t, f.job.Queue().Queued(), 1)
	assert.Equal(t, 2, f.job.Queue().Queued()[0].ID())
	assert.True(t, src.Stopping())

	f.markers.set(0)
	f.tick(t, 1)
	assert.Equal(t, "X X X 1", f.job.Pool().Display())
	f.tick(t, 1)
	assert.Equal(t, "2 2 X 1", f.job.Pool().Display())

	f.markers.set(1, 2)
	f.tick(t, 2)
	assert.True(t, f.job.Finished())
	assert.Len(t, f.job.Queue().Completed(), 3)
}

func Test_Job_Barrier(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	items := []source.Item{
		source.Command("a", 1), source.Command("b", 1), source.Command("c", 1),
		source.Barrier(),
		source.Command("d", 1), source.Command("e", 1),
	}
	src, err := source.NewList(items, 0)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 8, src, Configuration{})

	f.tick(t, 4)
	assert.True(t, f.job.BarrierWaiting())
	assert.Equal(t, []int{0, 1, 2}, runningIDs(f.job))

	// nothing after the barrier starts while an earlier task runs
	checkHeld := func() {
		for _, id := range runningIDs(f.job) {
			assert.Less(t, id, 3)
		}
		assert.Empty(t, f.job.Queue().Queued())
	}
	f.tick(t, 3)
	checkHeld()

	f.markers.set(0, 1)
	f.tick(t, 2)
	checkHeld()
	assert.Equal(t, []int{2}, runningIDs(f.job))
	assert.True(t, f.job.BarrierWaiting())

	f.markers.set(2)
	f.tick(t, 1)
	assert.False(t, f.job.BarrierWaiting())
	require.Len(t, f.job.Queue().Queued(), 1)
	assert.Equal(t, 3, f.job.Queue().Queued()[0].ID())

	f.tick(t, 2)
	assert.Equal(t, []int{3, 4}, runningIDs(f.job))

	stats.VerifyStats("barrier", f.reg, t, map[string]stats.Rule{
		"job/" + stats.JobBarrierCounter:   {Checker: stats.Int64EqTest, Value: 1},
		"job/" + stats.JobCompletedCounter: {Checker: stats.Int64EqTest, Value: 3},
		"job/" + stats.JobEnqueuedCounter:  {Checker: stats.Int64EqTest, Value: 5},
		"job/" + stats.JobBarrierWaitGauge: {Checker: stats.Int64EqTest, Value: 0},
	})
}

func Test_Job_BarrierWithQueuedTask(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	items := []source.Item{source.Command("a", 2), source.Command("b", 2), source.Barrier(), source.Command("c", 1)}
	src, err := source.NewList(items, 0)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 2, src, Configuration{})

	// b does not fit next to a and is still queued when the barrier is read
	f.tick(t, 3)
	assert.True(t, f.job.BarrierWaiting())
	assert.Equal(t, []int{0}, runningIDs(f.job))
	require.Len(t, f.job.Queue().Queued(), 1)
	assert.Equal(t, 1, f.job.Queue().Queued()[0].ID())

	// b is admitted during the wait; c is not generated until b is done
	f.markers.set(0)
	f.tick(t, 2)
	assert.Equal(t, []int{1}, runningIDs(f.job))
	assert.Empty(t, f.job.Queue().Queued())
	assert.True(t, f.job.BarrierWaiting())

	f.markers.set(1)
	f.tick(t, 1)
	assert.False(t, f.job.BarrierWaiting())
	require.Len(t, f.job.Queue().Queued(), 1)
	assert.Equal(t, 2, f.job.Queue().Queued()[0].ID())
}

func Test_Job_Abort(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src, err := source.NewCommands([]string{"sleep 1000"}, 1)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 2, src, Configuration{TaskMaxRuntime: 5})

	f.tick(t, 2)
	running := f.job.Queue().Running()
	require.Len(t, running, 1)
	start := running[0].StartTick()
	assert.Equal(t, 1, start)

	for f.job.TickCount() < start+6 {
		f.tick(t, 1)
		assert.Len(t, f.job.Queue().Running(), 1, "tick %d", f.job.TickCount())
	}
	f.tick(t, 1)
	assert.Empty(t, f.job.Queue().Running())
	aborted := f.job.Queue().Aborted()
	require.Len(t, aborted, 1)
	assert.Equal(t, task.ABORTED, aborted[0].State())
	assert.Empty(t, f.job.Queue().Completed())
	assert.Equal(t, 0, f.job.Pool().Occupancy())
	assert.True(t, f.job.Finished())
	assert.Contains(t, f.job.FinalReport(), "tasks aborted: 1")
}

func Test_Job_AbandonedTaskKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	witness := filepath.Join(dir, "still-alive")
	le, err := executor.NewLocalExecutor(executor.Options{Workdir: filepath.Join(dir, "work")}, "", osexecer.NewExecer(nil), nil)
	require.NoError(t, err)
	p, err := pool.NewPool(hosts.Local(1).Locations(), le, nil)
	require.NoError(t, err)
	src, err := source.NewCommands([]string{"sleep 1 ; touch " + witness}, 1)
	require.NoError(t, err)
	opts := task.Options{Completion: task.WrapFactory(le.Scripts().Workdir())}
	j, err := NewLauncherJob(Configuration{TaskMaxRuntime: 2, Delay: 10 * time.Millisecond}, p, src, opts, nil)
	require.NoError(t, err)

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, j.Queue().Aborted(), 1)
	_, err = os.Stat(witness)
	require.True(t, os.IsNotExist(err), "the run ends before the command does")

	// releasing the pool does not kill the abandoned command
	assert.Eventually(t, func() bool {
		_, err := os.Stat(witness)
		return err == nil
	}, 10*time.Second, 50*time.Millisecond)
}

func Test_Job_AdmissionIdempotent(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src, err := source.NewList([]source.Item{source.Command("a", 2), source.Command("b", 2), source.Command("c", 2)}, 0)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 4, src, Configuration{})

	f.tick(t, 5)
	display := f.job.Pool().Display()
	queued := len(f.job.Queue().Queued())
	f.tick(t, 3)
	assert.Equal(t, display, f.job.Pool().Display())
	assert.Equal(t, queued, len(f.job.Queue().Queued()))
	assert.Equal(t, 1, queued)
}

func Test_Job_Run(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src, err := source.NewCommands([]string{"a", "b", "c", "d", "e"}, 1)
	require.NoError(t, err)
	statePath := filepath.Join(t.TempDir(), "state", "queuestate")
	f := newFixture(t, mockCtrl, 2, src, Configuration{Type: "TestLauncher", QueueState: statePath})
	f.markers.all = true
	f.ex.EXPECT().ReleaseFromResource(gomock.Any()).Return(nil).Times(2)
	f.ex.EXPECT().Terminate().Return(nil)

	require.NoError(t, f.job.Run(context.Background()))
	assert.True(t, f.job.Finished())
	assert.Len(t, f.job.Queue().Completed(), 5)

	state, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, "queued\nrunning\ncompleted\n0: a\n1: b\n2: c\n3: d\n4: e\n", string(state))

	report := f.job.FinalReport()
	assert.Contains(t, report, "launcher type: TestLauncher")
	assert.Contains(t, report, "tasks completed: 5")
	assert.Contains(t, report, "out of ideal   :   2.00")
	assert.Contains(t, report, "Host pool of size 2.")
}

func Test_Job_Dynamic(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src := source.NewDynamic(nil)
	f := newFixture(t, mockCtrl, 2, src, Configuration{})
	f.markers.all = true
	f.ex.EXPECT().ReleaseFromResource(gomock.Any()).Return(nil).AnyTimes()
	f.ex.EXPECT().Terminate().Return(nil)

	f.tick(t, 3)
	assert.False(t, f.job.Finished())

	done := make(chan error)
	go func() { done <- f.job.Run(context.Background()) }()
	for i := 0; i < 4; i++ {
		require.NoError(t, src.Append(source.Command("echo", 1)))
	}
	src.Finish()
	require.NoError(t, <-done)
	assert.Len(t, f.job.Queue().Completed(), 4)

	stats.VerifyStats("dynamic", f.reg, t, map[string]stats.Rule{
		"job/" + stats.JobStallCounter: {Checker: stats.Int64GTETest, Value: 3},
	})
}

func Test_Job_Cancel(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	f := newFixture(t, mockCtrl, 1, source.NewDynamic(nil), Configuration{})
	f.ex.EXPECT().ReleaseFromResource(gomock.Any()).Return(nil)
	f.ex.EXPECT().Terminate().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, f.job.Run(ctx))
}

func Test_Job_MaxRuntime(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	ex := pool.NewMockExecutor(mockCtrl)
	ex.EXPECT().SetupOnResource(gomock.Any()).Return(nil)
	ex.EXPECT().ReleaseFromResource(gomock.Any()).Return(nil)
	ex.EXPECT().Terminate().Return(nil)
	p, err := pool.NewPool(hosts.Local(1).Locations(), ex, nil)
	require.NoError(t, err)

	clock := time.Unix(0, 0)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	j, err := NewLauncherJob(Configuration{MaxRuntime: 10 * time.Second, DebugMode: true}, p, source.NewDynamic(nil),
		task.Options{Completion: task.WrapFactory(t.TempDir()), Now: now}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Run(context.Background()))
	assert.False(t, j.Finished())
	assert.InDelta(t, 10, j.TickCount(), 2)
}

// brokenSource claims to be ready but fails to produce.
type brokenSource struct{}

func (brokenSource) Next() (source.Item, error) {
	return source.Item{}, errors.Wrap(source.ErrNotReady, "broken")
}
func (brokenSource) Stalling() bool  { return false }
func (brokenSource) Stopping() bool  { return false }
func (brokenSource) Exhausted() bool { return false }
func (brokenSource) Abort()          {}

func Test_Job_InvariantFault(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	f := newFixture(t, mockCtrl, 1, brokenSource{}, Configuration{})
	f.ex.EXPECT().ReleaseFromResource(gomock.Any()).Return(nil)
	f.ex.EXPECT().Terminate().Return(nil)

	err := f.job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, lerrors.InvariantFaultExitCode, lerrors.ExitCodeOf(err))
	assert.Equal(t, source.ErrNotReady, errors.Cause(err))
}

func Test_Job_NestedSrun(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	src, err := source.NewCommands([]string{"srun ./a.out"}, 1)
	require.NoError(t, err)
	f := newFixture(t, mockCtrl, 1, src, Configuration{})
	err = f.job.Tick(context.Background())
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
}
