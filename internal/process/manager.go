package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/container"
	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/logstore"
	"github.com/corralhq/corral/internal/portalloc"
	"github.com/corralhq/corral/internal/procgroup"
)

// stopGrace is the SIGTERM→SIGKILL escalation window of spec.md §4.1/§5.
const stopGrace = 5 * time.Second

// procHandle is the live OS-level handle for a spawned runnable.
type procHandle struct {
	cmd *exec.Cmd
}

// Manager is the Process Lifecycle component. One Manager is shared by
// every runnable of a Supervisor.
type Manager struct {
	log      *logger.Logger
	bus      *eventbus.Bus
	store    *logstore.Store
	defaults config.Defaults
	docker   config.DockerConfig

	mu        sync.Mutex
	instances map[string]*instance
}

// NewManager constructs a Manager. store and bus must be shared with
// the rest of the Supervisor.
func NewManager(log *logger.Logger, bus *eventbus.Bus, store *logstore.Store, defaults config.Defaults, docker config.DockerConfig) *Manager {
	return &Manager{
		log:       log,
		bus:       bus,
		store:     store,
		defaults:  defaults,
		docker:    docker,
		instances: make(map[string]*instance),
	}
}

// Init creates an instance for every definition, status stopped, hidden
// true, per spec.md §3 "Lifecycle".
func (m *Manager) Init(defs map[string]config.RunnableDef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, def := range defs {
		m.instances[id] = newInstance(def)
	}
}

func (m *Manager) get(id string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// Get returns a snapshot of one instance.
func (m *Manager) Get(id string) (Snapshot, bool) {
	in := m.get(id)
	if in == nil {
		return Snapshot{}, false
	}
	return in.snapshot(), true
}

// GetAll returns a snapshot of every known instance.
func (m *Manager) GetAll() []Snapshot {
	m.mu.Lock()
	ids := make([]*instance, 0, len(m.instances))
	for _, in := range m.instances {
		ids = append(ids, in)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(ids))
	for _, in := range ids {
		out = append(out, in.snapshot())
	}
	return out
}

// GetOutput returns the most recent n lines (or all, if n<=0) of id's
// stream, satisfying the single read-surface of SPEC_FULL.md §11.
func (m *Manager) GetOutput(id string, stream logstore.Stream, n int) []string {
	if n <= 0 {
		return m.store.ToArray(id, stream)
	}
	return m.store.Tail(id, stream, n)
}

// SetHidden flips hidden and emits hidden-change if it actually changed.
func (m *Manager) SetHidden(id string, hidden bool) {
	in := m.get(id)
	if in == nil {
		return
	}
	in.mu.Lock()
	changed := in.hidden != hidden
	in.hidden = hidden
	in.mu.Unlock()
	if changed {
		m.bus.PublishHiddenChange(eventbus.HiddenChange{ID: id, Hidden: hidden})
	}
}

// SetWaiting marks id as waiting on waitingFor and emits status-change.
// Used by internal/scheduler's gated-start path.
func (m *Manager) SetWaiting(id string, waitingFor []string) {
	in := m.get(id)
	if in == nil {
		return
	}
	in.mu.Lock()
	in.status = StatusWaiting
	in.waitingFor = append([]string(nil), waitingFor...)
	in.mu.Unlock()
	m.emitStatus(id)
}

// GetRuntimeEnv returns a copy of the runtime env published by id's
// onReady, for overlay into a dependent's spawn env (spec.md §4.5).
func (m *Manager) GetRuntimeEnv(id string) map[string]string {
	in := m.get(id)
	if in == nil {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]string, len(in.runtimeEnv))
	for k, v := range in.runtimeEnv {
		out[k] = v
	}
	return out
}

// Start spawns id's process, inheriting inheritedEnv from its
// dependencies' runtime env (spec.md §4.5). No-op if already
// running/starting (spec.md §8 idempotence).
func (m *Manager) Start(ctx context.Context, id string, inheritedEnv map[string]string) error {
	in := m.get(id)
	if in == nil {
		return fmt.Errorf("unknown runnable: %s", id)
	}

	in.mu.Lock()
	if in.status == StatusRunning || in.status == StatusStarting {
		in.mu.Unlock()
		return nil
	}
	wasHidden := in.hidden
	in.hidden = false
	def := in.def
	in.mu.Unlock()
	if wasHidden {
		m.bus.PublishHiddenChange(eventbus.HiddenChange{ID: id, Hidden: false})
	}

	m.store.Clear(id)

	argv, extraEnv, err := m.buildArgv(def)
	if err != nil {
		m.fail(in, err.Error())
		return nil
	}

	cmd := exec.CommandContext(context.Background(), argv[0], argv[1:]...)
	if def.Cwd != "" {
		cmd.Dir = def.Cwd
	}
	cmd.Env = mergeEnv(m.defaults.Env, def.Env, extraEnv, inheritedEnv)
	cmd.Stdin = nil
	procgroup.Set(cmd)

	var stdout, stderr io.ReadCloser
	var ptyMaster ptyFile

	if def.UseTTY {
		f, err := startPTY(cmd)
		if err != nil {
			m.fail(in, fmt.Sprintf("failed to start pty: %v", err))
			return nil
		}
		ptyMaster = f
	} else {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			m.fail(in, fmt.Sprintf("failed to attach stdout: %v", err))
			return nil
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			m.fail(in, fmt.Sprintf("failed to attach stderr: %v", err))
			return nil
		}

		if err := cmd.Start(); err != nil {
			m.fail(in, err.Error())
			return nil
		}
	}

	in.mu.Lock()
	in.epoch++
	epoch := in.epoch
	in.status = StatusStarting
	in.pid = cmd.Process.Pid
	in.startedAt = time.Now()
	in.errMsg = ""
	in.waitingFor = nil
	in.runtimeEnv = nil
	in.onReadyCalled = false
	in.stopping = false
	in.cmd = &procHandle{cmd: cmd}
	in.doneCh = make(chan struct{})
	done := in.doneCh
	in.mu.Unlock()

	m.emitStatus(id)

	if ptyMaster != nil {
		go m.readOutput(in, epoch, ptyMaster, logstore.Combined)
	} else {
		go m.readOutput(in, epoch, stdout, logstore.Stdout)
		go m.readOutput(in, epoch, stderr, logstore.Stderr)
	}
	go m.wait(in, epoch, done)
	m.scheduleReadiness(in, epoch, def)

	return nil
}

// buildArgv resolves def into an argv and any env the build step
// generated (container port mappings, shell $PORT substitution), per
// SPEC_FULL.md §4.1.1/§4.1.2.
func (m *Manager) buildArgv(def config.RunnableDef) ([]string, map[string]string, error) {
	if def.Kind == config.KindContainer {
		return container.BuildRunArgs(def, m.docker)
	}
	command, portEnv, err := portalloc.TransformCommand(def.Command)
	if err != nil {
		return nil, nil, err
	}
	return []string{"sh", "-c", command}, portEnv, nil
}

func (m *Manager) fail(in *instance, msg string) {
	in.mu.Lock()
	in.status = StatusError
	in.errMsg = msg
	in.hidden = false
	in.mu.Unlock()
	m.emitStatus(in.def.ID)
}

func (m *Manager) scheduleReadiness(in *instance, epoch uint64, def config.RunnableDef) {
	if def.ReadyWhen != nil {
		return // checked inline as lines arrive, see readOutput
	}
	grace := def.GraceMS
	if grace <= 0 {
		grace = m.defaults.GraceMS
	}
	if grace <= 0 {
		grace = 500
	}
	time.AfterFunc(time.Duration(grace)*time.Millisecond, func() {
		m.tryBecomeReady(in, epoch)
	})
}

func (m *Manager) readOutput(in *instance, epoch uint64, r io.ReadCloser, stream logstore.Stream) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m.store.Push(in.def.ID, line, stream)
		m.bus.PublishOutput(eventbus.Output{ID: in.def.ID, Line: line, Stream: toEventbusStream(stream)})

		in.mu.Lock()
		ready := in.status == StatusStarting && !in.onReadyCalled && in.epoch == epoch && in.def.ReadyWhen != nil
		in.mu.Unlock()
		if ready {
			text := combinedSnapshotText(m.store, in.def.ID)
			if in.def.ReadyWhen(text) {
				m.tryBecomeReady(in, epoch)
			}
		}
	}
}

// tryBecomeReady runs onReady (if any) at most once per epoch, then
// transitions starting -> running, per spec.md §4.1/§4.5/§9.
func (m *Manager) tryBecomeReady(in *instance, epoch uint64) {
	in.mu.Lock()
	if in.epoch != epoch || in.status != StatusStarting || in.onReadyCalled {
		in.mu.Unlock()
		return
	}
	in.onReadyCalled = true
	onReady := in.def.OnReady
	id := in.def.ID
	in.mu.Unlock()

	if onReady != nil {
		snapshot := combinedSnapshotText(m.store, id)
		setEnv := func(k, v string) {
			in.mu.Lock()
			if in.epoch == epoch {
				if in.runtimeEnv == nil {
					in.runtimeEnv = make(map[string]string)
				}
				in.runtimeEnv[k] = v
			}
			in.mu.Unlock()
		}
		if err := onReady(snapshot, setEnv); err != nil {
			m.log.Warn("onReady failed", zap.String("runnable_id", id), zap.Error(err))
		}
	}

	in.mu.Lock()
	becameRunning := in.epoch == epoch && in.status == StatusStarting
	if becameRunning {
		in.status = StatusRunning
	}
	in.mu.Unlock()

	if becameRunning {
		m.emitStatus(id)
	}
}

func (m *Manager) wait(in *instance, epoch uint64, done chan struct{}) {
	in.mu.Lock()
	cmd := in.cmd.cmd
	in.mu.Unlock()

	err := cmd.Wait()

	in.mu.Lock()
	if in.epoch != epoch {
		in.mu.Unlock()
		close(done)
		return
	}
	status, msg := classifyExit(err, in.stopping)
	in.status = status
	in.errMsg = msg
	in.pid = 0
	in.mu.Unlock()

	m.emitStatus(in.def.ID)
	close(done)
}

// Stop gracefully terminates id's process (SIGTERM, escalating to
// SIGKILL after stopGrace), per spec.md §4.1. No-op if not
// running/starting.
func (m *Manager) Stop(ctx context.Context, id string) error {
	in := m.get(id)
	if in == nil {
		return fmt.Errorf("unknown runnable: %s", id)
	}

	in.mu.Lock()
	if in.status != StatusRunning && in.status != StatusStarting {
		in.mu.Unlock()
		return nil
	}
	pid := in.pid
	done := in.doneCh
	in.stopping = true
	in.mu.Unlock()

	if pid > 0 {
		_ = procgroup.Terminate(pid)
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	case <-ctx.Done():
	}

	in.mu.Lock()
	pid = in.pid
	in.mu.Unlock()
	if pid > 0 {
		_ = procgroup.Kill(pid)
	}
	<-done
	return nil
}

// Restart stops then starts id, inheriting inheritedEnv again.
func (m *Manager) Restart(ctx context.Context, id string, inheritedEnv map[string]string) error {
	if err := m.Stop(ctx, id); err != nil {
		return err
	}
	return m.Start(ctx, id, inheritedEnv)
}

func (m *Manager) emitStatus(id string) {
	in := m.get(id)
	if in == nil {
		return
	}
	in.mu.Lock()
	s := eventbus.StatusChange{ID: id, Status: string(in.status), Error: in.errMsg}
	in.mu.Unlock()
	m.bus.PublishStatusChange(s)
}

// mergeEnv implements the precedence of spec.md §3/§4.1: process env,
// defaults env, build-step env (ports), definition env, inherited
// runtime env, then an unconditional FORCE_COLOR=1.
func mergeEnv(defaultsEnv, defEnv, buildEnv, inheritedEnv map[string]string) []string {
	merged := make(map[string]string)
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			merged[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range defaultsEnv {
		merged[k] = v
	}
	for k, v := range buildEnv {
		merged[k] = v
	}
	for k, v := range defEnv {
		merged[k] = v
	}
	for k, v := range inheritedEnv {
		merged[k] = v
	}
	merged["FORCE_COLOR"] = "1"

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
