package sched

import (
	"errors"
	"time"

	"github.com/licenseforge/foreman/pkg/agents"
	"github.com/licenseforge/foreman/pkg/events"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/metrics"
	"github.com/licenseforge/foreman/pkg/types"
)

// tick is the scheduling policy, run by the event loop once at start and
// after every event. It must stay light; it runs very frequently.
//
// Exclusive jobs are handled in two phases: the claim happens the moment
// the job surfaces at the head of the queue, which stops further admission,
// and the launch waits until every other agent and job has finished. The
// deferred job is excluded from the active count while it waits, otherwise
// its own claim would keep the system from ever reading as drained.
func (s *Scheduler) tick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickLatency)
	metrics.EventQueueDepth.Set(float64(s.loop.Depth()))

	s.mu.Lock()
	defer s.mu.Unlock()

	nAgents := s.super.LiveCount()
	nJobs := s.queue.ActiveCount()
	if s.deferred != nil {
		nJobs--
	}

	if s.closing && nAgents == 0 && nJobs == 0 {
		s.loop.Terminate()
		return
	}

	if s.lockout && nAgents == 0 && nJobs == 0 {
		s.lockout = false
	}

	if s.deferred == nil && !s.lockout && !s.closing {
		for {
			j := s.queue.Next()
			if j == nil {
				break
			}
			if s.kinds.IsExclusive(j.Kind) {
				s.deferred = j
				s.logger.Info().Str("job_id", j.ID).Str("kind", j.Kind).Msg("Exclusive job claimed, waiting for drain")
				break
			}
			if !s.launch(j) {
				break
			}
		}
	}

	// Counts are re-read here: the pull loop above may have launched
	// agents in this same tick, and an exclusive launch must only ever see
	// a fully drained system.
	if s.deferred != nil && !s.closing && s.super.LiveCount() == 0 && s.queue.ActiveCount() == 1 {
		j := s.deferred
		s.deferred = nil
		if s.launch(j) && j.State == types.JobStateRunning {
			s.lockout = true
			s.logger.Info().Str("job_id", j.ID).Msg("Exclusive job launched, lockout engaged")
		}
	}
}

// launch places one claimed job on a host. The return value tells the pull
// loop whether to keep going: capacity misses release the job and stop the
// loop until a later tick, a terminal spawn failure fails the job and keeps
// pulling.
func (s *Scheduler) launch(j *types.Job) bool {
	jlog := log.WithJobID(j.ID)

	kind, ok := s.kinds.Get(j.Kind)
	if !ok {
		jlog.Error().Str("kind", j.Kind).Msg("Job references unknown agent kind")
		s.queue.Release(j)
		return false
	}

	host := s.hosts.Get(1)
	if host == nil {
		s.queue.Release(j)
		return false
	}

	_, err := s.super.Launch(host, kind, j)
	switch {
	case err == nil:
		s.queue.MarkRunning(j)
		if serr := s.store.UpdateJob(j); serr != nil {
			jlog.Error().Err(serr).Msg("Failed to flush job state")
		}
		metrics.AgentsRunning.Set(float64(s.super.LiveCount()))
		s.broker.Publish(&events.Notice{
			Type:     events.NoticeJobStarted,
			Message:  "job " + j.ID + " started on " + host.ID,
			Metadata: map[string]string{"job_id": j.ID, "kind": j.Kind, "host_id": host.ID},
		})
		return true

	case errors.Is(err, agents.ErrNoHostCapacity), errors.Is(err, agents.ErrNoAgentKind):
		s.queue.Release(j)
		return false

	default:
		// Spawn failed: the job is not retried here, retry policy lives in
		// the queue layer upstream.
		jlog.Error().Err(err).Str("host_id", host.ID).Msg("Agent spawn failed")
		j.State = types.JobStateFailed
		j.Error = err.Error()
		j.FinishedAt = time.Now()
		s.queue.Drop(j)
		if serr := s.store.UpdateJob(j); serr != nil {
			jlog.Error().Err(serr).Msg("Failed to flush job state")
		}
		s.broker.Publish(&events.Notice{
			Type:     events.NoticeJobFailed,
			Message:  "job " + j.ID + " failed to spawn: " + err.Error(),
			Metadata: map[string]string{"job_id": j.ID, "kind": j.Kind},
		})
		return true
	}
}
