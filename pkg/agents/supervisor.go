package agents

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/licenseforge/foreman/pkg/events"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/metrics"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// Launch errors. NoHostCapacity and NoAgentKind are retryable on a later
// tick; SpawnFailed is terminal for the job.
var (
	ErrNoHostCapacity = errors.New("no host capacity")
	ErrNoAgentKind    = errors.New("no such agent kind")
	ErrSpawnFailed    = errors.New("agent spawn failed")
)

// Signaler is the slice of the event loop the supervisor needs: the ability
// to enqueue an event without blocking.
type Signaler interface {
	Signal(kind types.EventKind, payload interface{})
}

// agentProc pairs the bookkeeping record with the OS process behind it.
// The host pointer is held directly so reaping still decrements the counter
// of a host that a config reload has since removed.
type agentProc struct {
	info   *types.Agent
	job    *types.Job
	host   *types.Host
	cmd    *exec.Cmd
	logger zerolog.Logger // carries the agent_pid field
}

// Supervisor spawns, tracks and reaps agent processes.
//
// Status lines (READY, WORKING) arrive on the agent's stdout and mutate only
// the agent record under the supervisor mutex. Deaths are the transitions
// that touch jobs and hosts, so they are routed through the event loop: the
// per-process waiter delivers the exit to a collector, the collector batches
// whatever has died and signals a single agent-death event, and the loop
// handler calls NotifyDeath for each entry.
type Supervisor struct {
	logger zerolog.Logger
	loop   Signaler
	broker *events.Broker

	mu     sync.Mutex
	agents map[int]*agentProc

	deathCh chan types.Death
	stopCh  chan struct{}
}

// NewSupervisor creates a supervisor that signals deaths into loop and
// publishes notices to broker.
func NewSupervisor(loop Signaler, broker *events.Broker) *Supervisor {
	return &Supervisor{
		logger:  log.WithComponent("supervisor"),
		loop:    loop,
		broker:  broker,
		agents:  make(map[int]*agentProc),
		deathCh: make(chan types.Death, 64),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the death collector.
func (s *Supervisor) Start() {
	go s.collect()
}

// Stop stops the death collector. Live agents are not touched; use KillAll
// for that.
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

// collect batches process exits into single agent-death events. One blocking
// receive, then a non-blocking drain, mirrors the reap-everything-available
// discipline: however many agents died while the loop was busy, they retire
// in one event.
func (s *Supervisor) collect() {
	for {
		var batch []types.Death
		select {
		case d := <-s.deathCh:
			batch = append(batch, d)
		case <-s.stopCh:
			return
		}
	drain:
		for {
			select {
			case d := <-s.deathCh:
				batch = append(batch, d)
			default:
				break drain
			}
		}
		s.loop.Signal(types.EventAgentDeath, batch)
	}
}

// Launch starts an agent of the given kind on host to execute job.
// On success the host counter is incremented, the job transitions to running
// with the agent's pid assigned, and the agent begins in the spawning state.
func (s *Supervisor) Launch(host *types.Host, kind *types.AgentKind, job *types.Job) (*types.Agent, error) {
	if kind == nil {
		return nil, ErrNoAgentKind
	}
	if host == nil || host.RunningAgents >= host.MaxAgents {
		return nil, ErrNoHostCapacity
	}

	cmd := buildCommand(host, kind, job)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	timer := metrics.NewTimer()
	if err := cmd.Start(); err != nil {
		metrics.AgentsFailed.Inc()
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	timer.ObserveDuration(metrics.SpawnLatency)
	metrics.AgentsSpawned.Inc()

	pid := cmd.Process.Pid
	now := time.Now()

	agent := &types.Agent{
		PID:       pid,
		HostID:    host.ID,
		Kind:      kind.Name,
		JobID:     job.ID,
		State:     types.AgentStateSpawning,
		StartedAt: now,
		LastHeard: now,
	}

	host.RunningAgents++
	job.State = types.JobStateRunning
	job.AgentPID = pid
	job.StartedAt = now

	alog := log.WithAgentPID(pid)

	s.mu.Lock()
	s.agents[pid] = &agentProc{info: agent, job: job, host: host, cmd: cmd, logger: alog}
	s.mu.Unlock()

	go s.readStatus(alog, pid, stdout)
	go s.wait(pid, cmd)

	alog.Info().
		Str("job_id", job.ID).
		Str("kind", kind.Name).
		Str("host_id", host.ID).
		Msg("Launched agent")
	s.broker.Publish(&events.Notice{
		Type:    events.NoticeAgentSpawned,
		Message: fmt.Sprintf("agent %d launched for job %s on %s", pid, job.ID, host.ID),
		Metadata: map[string]string{
			"job_id":  job.ID,
			"kind":    kind.Name,
			"host_id": host.ID,
		},
	})

	return agent, nil
}

// buildCommand resolves the launch command for a kind on a host. Local hosts
// run the binary from the host's agent directory; remote hosts go through
// ssh so the agent runs next to its repository files.
func buildCommand(host *types.Host, kind *types.AgentKind, job *types.Job) *exec.Cmd {
	env := []string{
		"FOREMAN_JOB_ID=" + job.ID,
		"FOREMAN_JOB_PAYLOAD=" + job.Payload,
	}

	var cmd *exec.Cmd
	if local(host.Address) {
		parts := strings.Fields(kind.Command)
		bin := parts[0]
		if !filepath.IsAbs(bin) {
			bin = filepath.Join(host.AgentDir, bin)
		}
		cmd = exec.Command(bin, parts[1:]...)
		cmd.Dir = host.AgentDir
	} else {
		remote := fmt.Sprintf("cd %s && FOREMAN_JOB_ID=%s FOREMAN_JOB_PAYLOAD=%s ./%s",
			host.AgentDir, job.ID, job.Payload, kind.Command)
		cmd = exec.Command("ssh", host.Address, remote)
	}
	cmd.Env = append(cmd.Environ(), env...)
	return cmd
}

func local(address string) bool {
	return address == "localhost" || address == "127.0.0.1" || address == "::1"
}

// readStatus consumes the agent's stdout. Agents report "READY" once their
// setup is done and "WORKING <progress>" as they advance; every line counts
// as a sign of life.
func (s *Supervisor) readStatus(alog zerolog.Logger, pid int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "READY":
			s.NotifyReady(pid)
		case strings.HasPrefix(line, "WORKING"):
			s.NotifyWorking(pid, strings.TrimSpace(strings.TrimPrefix(line, "WORKING")))
		case line != "":
			s.touch(pid)
			alog.Debug().Str("line", line).Msg("Agent output")
		}
	}
}

// wait reaps the OS process and delivers its exit to the collector.
func (s *Supervisor) wait(pid int, cmd *exec.Cmd) {
	err := cmd.Wait()
	status := 0
	if err != nil {
		status = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			status = exitErr.ExitCode()
		}
	}
	s.deathCh <- types.Death{PID: pid, Status: status}
}

// touch refreshes the agent's liveness timestamp.
func (s *Supervisor) touch(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.agents[pid]; ok {
		p.info.LastHeard = time.Now()
	}
}

// NotifyReady transitions a spawning agent to ready.
func (s *Supervisor) NotifyReady(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.agents[pid]
	if !ok {
		return
	}
	if p.info.State == types.AgentStateSpawning {
		p.info.State = types.AgentStateReady
	}
	p.info.LastHeard = time.Now()
}

// NotifyWorking transitions a ready agent to working; a working agent stays
// working and just refreshes its progress.
func (s *Supervisor) NotifyWorking(pid int, progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.agents[pid]
	if !ok {
		return
	}
	if p.info.State == types.AgentStateReady || p.info.State == types.AgentStateWorking {
		p.info.State = types.AgentStateWorking
	}
	p.info.LastHeard = time.Now()
	if progress != "" {
		p.logger.Debug().Str("progress", progress).Msg("Agent progress")
	}
}

// NotifyDeath retires a reaped agent: the host counter is decremented and
// the job resolves to complete on a zero exit status, failed otherwise. The
// resolved job is returned so the caller can flush it to storage. A pid the
// supervisor does not know is ignored silently; the death may arrive after
// a teardown already retired the record.
func (s *Supervisor) NotifyDeath(pid int, status int) *types.Job {
	s.mu.Lock()
	p, ok := s.agents[pid]
	if ok {
		delete(s.agents, pid)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	p.info.State = types.AgentStateDead
	p.host.RunningAgents--

	job := p.job
	job.AgentPID = 0
	job.FinishedAt = time.Now()
	job.ExitCode = status
	if status == 0 {
		job.State = types.JobStateComplete
		metrics.JobsCompleted.Inc()
		s.broker.Publish(&events.Notice{
			Type:     events.NoticeJobCompleted,
			Message:  fmt.Sprintf("job %s completed", job.ID),
			Metadata: map[string]string{"job_id": job.ID, "kind": job.Kind},
		})
	} else {
		job.State = types.JobStateFailed
		job.Error = fmt.Sprintf("agent %d exited with status %d", pid, status)
		metrics.JobsFailed.Inc()
		s.broker.Publish(&events.Notice{
			Type:     events.NoticeJobFailed,
			Message:  job.Error,
			Metadata: map[string]string{"job_id": job.ID, "kind": job.Kind},
		})
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Int("status", status).
		Str("job_state", string(job.State)).
		Msg("Agent died")

	return job
}

// KillAll sends graceful termination to every live agent. It does not block
// waiting for them to exit; deaths arrive through the collector as usual.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Int("agents", len(s.agents)).Msg("Sending termination to all agents")
	for _, p := range s.agents {
		if !p.info.State.Live() {
			continue
		}
		p.info.State = types.AgentStateDying
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to signal agent")
		}
	}
}

// Update is the periodic supervision pass. Agents unheard-from beyond grace
// are asked to terminate; agents already dying that long are killed hard.
func (s *Supervisor) Update(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, p := range s.agents {
		silent := now.Sub(p.info.LastHeard)
		if silent < grace {
			continue
		}
		switch p.info.State {
		case types.AgentStateDying:
			p.logger.Warn().Dur("silent", silent).Msg("Dying agent unresponsive, killing")
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to kill agent")
			}
		case types.AgentStateSpawning, types.AgentStateReady, types.AgentStateWorking:
			p.logger.Warn().Dur("silent", silent).Msg("Agent unheard from, terminating")
			p.info.State = types.AgentStateDying
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to signal agent")
			}
		}
	}
}

// LiveCount returns the number of agents that still have an OS process.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.agents {
		if p.info.State.Live() {
			n++
		}
	}
	return n
}

// Agents returns a snapshot of the tracked agents for the control interface.
func (s *Supervisor) Agents() []*types.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Agent, 0, len(s.agents))
	for _, p := range s.agents {
		a := *p.info
		out = append(out, &a)
	}
	return out
}
