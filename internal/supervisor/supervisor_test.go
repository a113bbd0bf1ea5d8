package supervisor

// Supervisor Tests
//
// These tests drive the event loop directly with a fake spawner, so worker
// lifecycle ordering is fully deterministic: no real processes are involved.
// The exec spawner is covered by the end-to-end tests in the root package.

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/prefork/internal/config"
	"github.com/fieldline/prefork/internal/ipc"
)

type fakeProc struct {
	pid     int
	drained bool
	killed  bool
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Drain() error {
	p.drained = true
	return nil
}

func (p *fakeProc) Kill() error {
	p.killed = true
	return nil
}

type spawnRecord struct {
	id         int
	generation int
	proc       *fakeProc
}

type fakeSpawner struct {
	attachCalls int
	spawned     []spawnRecord
	failNext    int
	spawnErrs   int
	closed      bool
}

func (f *fakeSpawner) Attach(net.Listener) error {
	f.attachCalls++
	return nil
}

func (f *fakeSpawner) Spawn(id, generation int, _ func(Event)) (Process, error) {
	if f.failNext > 0 {
		f.failNext--
		f.spawnErrs++
		return nil, errors.New("spawn refused")
	}
	p := &fakeProc{pid: 1000 + id}
	f.spawned = append(f.spawned, spawnRecord{id: id, generation: generation, proc: p})
	return p, nil
}

func (f *fakeSpawner) Close() error {
	f.closed = true
	return nil
}

func testConfig(workers int) config.Server {
	return config.Server{
		Bind:           "127.0.0.1:0",
		Workers:        workers,
		RequestTimeout: time.Second,
		GracePeriod:    20 * time.Millisecond,
		BootFailWindow: 10 * time.Second,
		BootFailBudget: 3,
	}
}

// started builds a supervisor with n workers spawned and, optionally, all of
// them reported ready.
func started(t *testing.T, n int, ready bool) (*Supervisor, *fakeSpawner) {
	t.Helper()
	spawner := &fakeSpawner{}
	s := New(testConfig(n), spawner)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		if s.listener != nil {
			s.listener.Close()
		}
	})
	if ready {
		for i := 1; i <= n; i++ {
			s.handle(WorkerReady{ID: i})
		}
	}
	return s, spawner
}

func TestStart_SpawnsConfiguredWorkers(t *testing.T) {
	s, spawner := started(t, 3, false)

	assert.Equal(t, 1, spawner.attachCalls, "listener must be bound and attached exactly once")
	assert.Len(t, spawner.spawned, 3)
	assert.Len(t, s.workers, 3)
	assert.Equal(t, StateStarting, s.state)
	for _, h := range s.workers {
		assert.Equal(t, StateLaunching, h.State)
		assert.Equal(t, 1, h.Generation)
	}
	assert.NotNil(t, s.Addr())
}

func TestStart_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(1)
	cfg.Bind = ln.Addr().String() // already in use

	s := New(cfg, &fakeSpawner{})
	err = s.Start()
	require.Error(t, err)
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, cfg.Bind, bindErr.Addr)
}

func TestReady_TransitionsToRunning(t *testing.T) {
	s, _ := started(t, 2, false)

	s.handle(WorkerReady{ID: 1})
	assert.Equal(t, StateStarting, s.state, "one ready worker of two is not enough")

	s.handle(WorkerReady{ID: 2})
	assert.Equal(t, StateRunning, s.state)
	for _, h := range s.workers {
		assert.Equal(t, StateReady, h.State)
		assert.False(t, h.LastHeartbeat.IsZero())
	}
}

func TestHeartbeat_UpdatesHandle(t *testing.T) {
	s, _ := started(t, 1, true)

	before := s.workers[1].LastHeartbeat
	time.Sleep(time.Millisecond)
	s.handle(WorkerHeartbeat{ID: 1})
	assert.True(t, s.workers[1].LastHeartbeat.After(before))

	// Heartbeats from reaped workers are ignored.
	s.handle(WorkerHeartbeat{ID: 99})
}

func TestCrash_IsReplacedExactlyOnce(t *testing.T) {
	s, spawner := started(t, 2, true)

	s.handle(WorkerExited{ID: 1, Code: 137})

	assert.Len(t, s.workers, 2, "pool size must not shrink after a crash")
	assert.Len(t, spawner.spawned, 3, "exactly one replacement spawn")
	replacement := spawner.spawned[2]
	assert.Equal(t, 3, replacement.id)
	assert.Equal(t, 1, replacement.generation)
	assert.Equal(t, StateRunning, s.state, "a worker crash is routine, never fatal to the master")
}

func TestBootLoop_IsFatal(t *testing.T) {
	s, spawner := started(t, 1, false)

	// Budget is 3 failures within the window. Each failure before the
	// last is replaced.
	s.handle(WorkerExited{ID: 1, Code: ipc.ExitCodeAdapterInit})
	require.Len(t, spawner.spawned, 2)
	s.handle(WorkerExited{ID: 2, Code: ipc.ExitCodeAdapterInit})
	require.Len(t, spawner.spawned, 3)

	s.handle(WorkerExited{ID: 3, Code: ipc.ExitCodeAdapterInit})
	assert.Equal(t, StateStopped, s.state)
	assert.ErrorIs(t, s.err, ErrBootLoop)
	assert.Len(t, spawner.spawned, 3, "no replacement after the budget is exhausted")
	assert.True(t, spawner.closed)
}

func TestBootBudget_CountsAnyPreReadyExit(t *testing.T) {
	s, spawner := started(t, 1, false)

	// Exits before the worker ever reported ready trip the budget no
	// matter the exit code: an init panic or a broken spawn contract must
	// not be respawned at full rate forever.
	s.handle(WorkerExited{ID: 1, Code: 2})
	require.Len(t, spawner.spawned, 2)
	s.handle(WorkerExited{ID: 2, Code: 1})
	require.Len(t, spawner.spawned, 3)

	s.handle(WorkerExited{ID: 3, Code: 2})
	assert.Equal(t, StateStopped, s.state)
	assert.ErrorIs(t, s.err, ErrBootLoop)
	assert.Len(t, spawner.spawned, 3, "no replacement after the budget is exhausted")
}

func TestReadyWorkerCrashes_DoNotTripBootBudget(t *testing.T) {
	s, spawner := started(t, 1, false)

	// Each worker reaches ready before dying: these are routine crashes,
	// replaced without bound.
	for i := 1; i <= 5; i++ {
		s.handle(WorkerReady{ID: i})
		s.handle(WorkerExited{ID: i, Code: 2})
	}

	assert.Equal(t, StateRunning, s.state)
	assert.NoError(t, s.err)
	assert.Len(t, spawner.spawned, 6)
}

func TestRun_ReturnsBootLoopError(t *testing.T) {
	spawner := &fakeSpawner{}
	s := New(testConfig(1), spawner)
	require.NoError(t, s.Start())

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	s.Notify(WorkerExited{ID: 1, Code: ipc.ExitCodeAdapterInit})
	s.Notify(WorkerExited{ID: 2, Code: ipc.ExitCodeAdapterInit})
	s.Notify(WorkerExited{ID: 3, Code: ipc.ExitCodeAdapterInit})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBootLoop)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after boot budget was exhausted")
	}
}

func TestReload_ZeroDowntime(t *testing.T) {
	s, spawner := started(t, 2, true)

	s.handle(ReloadRequested{})
	assert.Equal(t, StateReloading, s.state)
	assert.Equal(t, 2, s.generation)
	require.Len(t, spawner.spawned, 4, "a full replacement set is spawned")
	assert.Len(t, s.workers, 4, "old and new generations overlap during reload")

	// Old generation keeps serving while the new one boots.
	assert.Equal(t, 2, s.readyCount(1))
	for _, rec := range spawner.spawned[:2] {
		assert.False(t, rec.proc.drained, "old workers must not drain before the new set is ready")
	}

	s.handle(WorkerReady{ID: 3})
	assert.Equal(t, StateReloading, s.state)
	s.handle(WorkerReady{ID: 4})

	// The instant the old generation is told to drain, the full new
	// generation is ready: there is no zero-ready window.
	assert.Equal(t, StateRunning, s.state)
	assert.Equal(t, 2, s.readyCount(2))
	for _, rec := range spawner.spawned[:2] {
		assert.True(t, rec.proc.drained)
	}

	// Old workers exit after draining and are not replaced.
	s.handle(WorkerExited{ID: 1, Code: 0})
	s.handle(WorkerExited{ID: 2, Code: 0})
	assert.Len(t, s.workers, 2)
	assert.Len(t, spawner.spawned, 4)
}

func TestReload_SecondRequestQueues(t *testing.T) {
	s, spawner := started(t, 1, true)

	s.handle(ReloadRequested{})
	require.Equal(t, 2, s.generation)
	s.handle(ReloadRequested{})
	assert.True(t, s.pendingReload, "a reload during a reload queues behind it")
	assert.Equal(t, 2, s.generation, "the queued reload must not start yet")

	s.handle(WorkerReady{ID: 2})

	// Completing the first reload starts the queued one.
	assert.Equal(t, 3, s.generation)
	assert.Equal(t, StateReloading, s.state)
	assert.False(t, s.pendingReload)
	assert.Len(t, spawner.spawned, 3)
}

func TestCrash_SpawnFailureIsRetried(t *testing.T) {
	s, spawner := started(t, 1, true)

	spawner.failNext = 1
	s.handle(WorkerExited{ID: 1, Code: 137})
	require.Equal(t, 1, spawner.spawnErrs)
	require.Empty(t, s.workers, "the replacement spawn failed")

	// The failed spawn armed a retry timer that fires into the event
	// channel; the pool must recover, not stay shrunk.
	select {
	case ev := <-s.events:
		s.handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("spawn retry timer never fired")
	}

	assert.Len(t, s.workers, 1)
	assert.Len(t, spawner.spawned, 2)
}

func TestReload_SpawnFailureDoesNotWedge(t *testing.T) {
	s, spawner := started(t, 2, true)

	// One of the two replacement spawns fails; the reload must still be
	// able to complete once the retry lands.
	spawner.failNext = 1
	s.handle(ReloadRequested{})
	require.Equal(t, StateReloading, s.state)
	require.Len(t, s.workers, 3, "two old workers plus the one replacement that spawned")

	select {
	case ev := <-s.events:
		s.handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("spawn retry timer never fired")
	}
	require.Len(t, s.workers, 4)

	for _, rec := range spawner.spawned {
		if rec.generation == 2 {
			s.handle(WorkerReady{ID: rec.id})
		}
	}

	assert.Equal(t, StateRunning, s.state)
	assert.Equal(t, 2, s.readyCount(2))
	for _, rec := range spawner.spawned {
		if rec.generation == 1 {
			assert.True(t, rec.proc.drained, "the old generation retires once the new one is ready")
		}
	}
}

func TestSpawnRetry_IgnoresStaleAndSatisfiedPools(t *testing.T) {
	s, spawner := started(t, 1, true)
	n := len(spawner.spawned)

	// A retry for a generation a reload has superseded is dropped.
	s.handle(spawnRetry{generation: s.generation - 1})
	assert.Len(t, spawner.spawned, n)

	// A retry for a pool already at target is dropped too.
	s.handle(spawnRetry{generation: s.generation})
	assert.Len(t, spawner.spawned, n)
}

func TestShutdown_DrainsAndStops(t *testing.T) {
	s, spawner := started(t, 2, true)

	s.handle(ShutdownRequested{})
	assert.Equal(t, StateStopping, s.state)
	for _, rec := range spawner.spawned {
		assert.True(t, rec.proc.drained)
	}

	s.handle(WorkerExited{ID: 1, Code: 0})
	assert.Equal(t, StateStopping, s.state)
	assert.Len(t, spawner.spawned, 2, "no replacement spawns during shutdown")

	s.handle(WorkerExited{ID: 2, Code: 0})
	assert.Equal(t, StateStopped, s.state)
	assert.NoError(t, s.err)
	assert.True(t, spawner.closed)
}

func TestShutdown_ForceKillsAfterGrace(t *testing.T) {
	s, spawner := started(t, 1, true)

	s.handle(ShutdownRequested{})
	require.Equal(t, StateStopping, s.state)

	// The worker never exits; the grace timer fires into the event
	// channel (grace is 20ms in the test config).
	select {
	case ev := <-s.events:
		s.handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown grace timer never fired")
	}

	assert.Equal(t, StateStopped, s.state)
	assert.True(t, spawner.spawned[0].proc.killed)
	assert.Empty(t, s.workers)
}

func TestShutdown_IsTerminal(t *testing.T) {
	s, _ := started(t, 1, true)

	s.handle(ShutdownRequested{})
	s.handle(ReloadRequested{})
	assert.Equal(t, StateStopping, s.state, "reload must not restart a stopping master")

	s.handle(WorkerExited{ID: 1, Code: 0})
	assert.Equal(t, StateStopped, s.state)
}

func TestScale_UpAndDown(t *testing.T) {
	s, spawner := started(t, 2, true)

	s.handle(ScaleRequested{Delta: 1})
	assert.Equal(t, 3, s.target)
	require.Len(t, spawner.spawned, 3)
	s.handle(WorkerReady{ID: 3})

	s.handle(ScaleRequested{Delta: -1})
	assert.Equal(t, 2, s.target)
	assert.True(t, spawner.spawned[2].proc.drained, "scale-down retires the newest worker")

	s.handle(WorkerExited{ID: 3, Code: 0})
	assert.Len(t, s.workers, 2)
	assert.Len(t, spawner.spawned, 3, "a drained worker is not replaced")
}

func TestScale_NeverBelowOneWorker(t *testing.T) {
	s, spawner := started(t, 1, true)

	s.handle(ScaleRequested{Delta: -1})
	assert.Equal(t, 1, s.target)
	assert.False(t, spawner.spawned[0].proc.drained)
}

func TestDrainGrace_ForceKillsStragglers(t *testing.T) {
	s, spawner := started(t, 2, true)

	s.handle(ReloadRequested{})
	s.handle(WorkerReady{ID: 3})
	s.handle(WorkerReady{ID: 4})
	require.True(t, spawner.spawned[0].proc.drained)

	// Old generation never exits; its drain grace timer force-kills it.
	deadline := time.After(2 * time.Second)
	for !spawner.spawned[0].proc.killed || !spawner.spawned[1].proc.killed {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-deadline:
			t.Fatal("drain grace timer never fired for the old generation")
		}
	}

	assert.Equal(t, StateRunning, s.state)
}
