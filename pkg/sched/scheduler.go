package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/licenseforge/foreman/pkg/agents"
	"github.com/licenseforge/foreman/pkg/config"
	"github.com/licenseforge/foreman/pkg/events"
	"github.com/licenseforge/foreman/pkg/hosts"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/metrics"
	"github.com/licenseforge/foreman/pkg/queue"
	"github.com/licenseforge/foreman/pkg/storage"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler wires the registries, queue, supervisor and event loop together
// and owns the policy state. All fields below the loop are mutated only by
// event handlers and the tick callback, which the loop serializes.
type Scheduler struct {
	logger   zerolog.Logger
	setupDir string
	cfg      *config.File

	loop   *events.Loop
	broker *events.Broker
	store  storage.Store
	queue  *queue.Queue
	hosts  *hosts.Registry
	kinds  *agents.KindRegistry
	super  *agents.Supervisor

	// policy state, guarded by mu: written only on the loop goroutine,
	// read by Snapshot from control-interface sessions
	mu       sync.Mutex
	closing  bool
	lockout  bool
	deferred *types.Job

	tickerStop chan struct{}
}

// New assembles a scheduler over an opened store and a loaded config.
func New(setupDir string, cfg *config.File, store storage.Store) *Scheduler {
	s := &Scheduler{
		logger:     log.WithComponent("sched"),
		setupDir:   setupDir,
		cfg:        cfg,
		loop:       events.NewLoop(),
		broker:     events.NewBroker(),
		store:      store,
		hosts:      hosts.NewRegistry(),
		kinds:      agents.NewKindRegistry(),
		tickerStop: make(chan struct{}),
	}
	s.queue = queue.New(store, s.kinds)
	s.super = agents.NewSupervisor(s.loop, s.broker)

	s.loop.Register(types.EventAgentDeath, s.onAgentDeath)
	s.loop.Register(types.EventAgentUpdate, s.onAgentUpdate)
	s.loop.Register(types.EventDatabaseUpdate, s.onDatabaseUpdate)
	s.loop.Register(types.EventSchedulerClose, s.onClose)
	s.loop.Register(types.EventConfigReload, s.onReload)

	return s
}

// Loop exposes the event loop for producers (control interface, tests).
func (s *Scheduler) Loop() *events.Loop {
	return s.loop
}

// Broker exposes the notice broker for observers.
func (s *Scheduler) Broker() *events.Broker {
	return s.broker
}

// Init loads the fleet and agent kinds from the setup root. It fails only
// when nothing usable was admitted; individual bad entries just log.
func (s *Scheduler) Init() error {
	if err := s.loadFleet(); err != nil {
		return err
	}
	if err := s.loadKinds(); err != nil {
		return err
	}
	if s.hosts.Len() == 0 {
		return fmt.Errorf("no usable hosts configured")
	}
	if s.kinds.Len() == 0 {
		return fmt.Errorf("no usable agent kinds configured")
	}
	s.validateFleet()
	return nil
}

// Close begins a graceful shutdown from inside the process.
func (s *Scheduler) Close() {
	s.loop.Signal(types.EventSchedulerClose, nil)
}

// Run enters the event loop and blocks until the system drains after a
// close event. The periodic check ticker stands in for the alarm cycle:
// every interval it queues an agent update and a database update.
func (s *Scheduler) Run() {
	s.broker.Start()
	s.super.Start()
	s.installSignals()

	interval := s.cfg.CheckInterval.Std()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.loop.Signal(types.EventAgentUpdate, nil)
				s.loop.Signal(types.EventDatabaseUpdate, nil)
			case <-s.tickerStop:
				return
			}
		}
	}()

	s.loop.Signal(types.EventDatabaseUpdate, nil)
	s.loop.Enter(s.tick)

	close(s.tickerStop)
	s.super.Stop()
	s.broker.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// agentGrace is how long an agent may stay silent before the periodic
// update pass terminates it.
func (s *Scheduler) agentGrace() time.Duration {
	return 3 * s.cfg.CheckInterval.Std()
}

// onAgentDeath retires a batch of reaped agent processes. The batch is
// processed atomically under the loop's single-threaded discipline; jobs
// resolved here are flushed to storage before the next tick runs.
func (s *Scheduler) onAgentDeath(payload interface{}) {
	metrics.EventsProcessed.WithLabelValues(string(types.EventAgentDeath)).Inc()

	batch, ok := payload.([]types.Death)
	if !ok {
		s.logger.Error().Msg("Agent death event with unexpected payload")
		return
	}

	for _, d := range batch {
		job := s.super.NotifyDeath(d.PID, d.Status)
		if job == nil {
			// Death raced a teardown that already retired the record.
			continue
		}
		s.queue.Finish(job)
		if err := s.store.UpdateJob(job); err != nil {
			log.WithJobID(job.ID).Error().Err(err).Msg("Failed to flush job state")
		}
	}
	s.hosts.Prune()
	metrics.AgentsRunning.Set(float64(s.super.LiveCount()))
}

// onAgentUpdate runs the periodic supervision pass.
func (s *Scheduler) onAgentUpdate(payload interface{}) {
	metrics.EventsProcessed.WithLabelValues(string(types.EventAgentUpdate)).Inc()
	s.super.Update(s.agentGrace())
}

// onDatabaseUpdate pulls newly arrived jobs from storage into the queue and
// purges finished jobs past their retention.
func (s *Scheduler) onDatabaseUpdate(payload interface{}) {
	metrics.EventsProcessed.WithLabelValues(string(types.EventDatabaseUpdate)).Inc()
	if err := s.queue.Refresh(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh job queue")
	}
	s.purgeFinishedJobs()
	s.updateJobGauges()
}

// purgeFinishedJobs deletes terminal jobs whose results have been in storage
// longer than the configured retention. The platform reads job outcomes from
// the database; without a bound the jobs bucket grows forever.
func (s *Scheduler) purgeFinishedJobs() {
	retention := s.cfg.JobRetention.Std()
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	purged := 0
	for _, state := range []types.JobState{types.JobStateComplete, types.JobStateFailed} {
		jobs, err := s.store.ListJobsByState(state)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list finished jobs for purge")
			return
		}
		for _, j := range jobs {
			if j.FinishedAt.IsZero() || j.FinishedAt.After(cutoff) {
				continue
			}
			if err := s.store.DeleteJob(j.ID); err != nil {
				log.WithJobID(j.ID).Error().Err(err).Msg("Failed to purge finished job")
				continue
			}
			purged++
		}
	}
	if purged > 0 {
		s.logger.Debug().Int("purged", purged).Msg("Purged finished jobs past retention")
	}
}

// onClose stops admission and asks every live agent to terminate. The loop
// keeps running until the tick sees the system drained.
func (s *Scheduler) onClose(payload interface{}) {
	metrics.EventsProcessed.WithLabelValues(string(types.EventSchedulerClose)).Inc()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true

	// A job claimed for exclusive execution goes back to pending; it will
	// run when a future scheduler instance picks it up.
	if s.deferred != nil {
		s.queue.Release(s.deferred)
		s.deferred = nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduler closing, terminating agents")
	s.super.KillAll()
	s.broker.Publish(&events.Notice{
		Type:    events.NoticeClosing,
		Message: "scheduler shutting down",
	})
}

// onReload rebuilds the host and kind registries from the config files.
func (s *Scheduler) onReload(payload interface{}) {
	metrics.EventsProcessed.WithLabelValues(string(types.EventConfigReload)).Inc()
	s.reload()
}

// Enqueue creates a pending job in storage and nudges the queue. This is
// the manual admission path used by operators; the platform normally writes
// jobs to storage directly and relies on the periodic database update.
func (s *Scheduler) Enqueue(kind, payload string, priority int) (string, error) {
	job := &types.Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
		State:      types.JobStatePending,
		EnqueuedAt: time.Now(),
	}
	if err := s.store.CreateJob(job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.loop.Signal(types.EventDatabaseUpdate, nil)
	return job.ID, nil
}

// SetVerbosity adjusts the log level from an operator command.
func (s *Scheduler) SetVerbosity(v int) {
	log.SetLevel(log.LevelFromVerbosity(v))
}

func (s *Scheduler) updateJobGauges() {
	for _, state := range []types.JobState{
		types.JobStatePending,
		types.JobStateRunning,
		types.JobStateComplete,
		types.JobStateFailed,
	} {
		jobs, err := s.store.ListJobsByState(state)
		if err != nil {
			return
		}
		metrics.JobsTotal.WithLabelValues(string(state)).Set(float64(len(jobs)))
	}
}

// Snapshot is the operator-facing view of the scheduler state.
type Snapshot struct {
	Closing     bool
	Lockout     bool
	Deferred    string
	LiveAgents  int
	ActiveJobs  int
	PendingJobs int
	Hosts       int
	Agents      []*types.Agent
}

// Snapshot assembles the current state for the control interface. Counter
// reads take the component locks individually; the result is advisory, not
// a consistent cut.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		LiveAgents:  s.super.LiveCount(),
		ActiveJobs:  s.queue.ActiveCount(),
		PendingJobs: s.queue.PendingCount(),
		Hosts:       s.hosts.Len(),
		Agents:      s.super.Agents(),
	}
	s.mu.Lock()
	snap.Closing = s.closing
	snap.Lockout = s.lockout
	if s.deferred != nil {
		snap.Deferred = s.deferred.ID
	}
	s.mu.Unlock()
	return snap
}
