package types

import (
	"time"
)

// Host represents a machine on which agents may be launched.
// RunningAgents is mutated only by the agent supervisor when launching
// and reaping; it never exceeds MaxAgents.
type Host struct {
	ID            string
	Address       string // IP address or hostname; "localhost" is the scheduler machine
	AgentDir      string // directory on the host containing agent binaries
	MaxAgents     int
	RunningAgents int
}

// Free returns the number of agent slots currently available on the host.
func (h *Host) Free() int {
	return h.MaxAgents - h.RunningAgents
}

// AgentKind is the configuration template describing how to launch agents
// of one type. Immutable after registration.
type AgentKind struct {
	Name       string
	Command    string
	MaxPerHost int
	Exclusive  bool // an exclusive kind demands no other agents run concurrently
}

// Job represents one unit of analysis work pulled from the persistent queue.
type Job struct {
	ID         string
	Kind       string // AgentKind name
	Payload    string // reference to the upload the agent operates on
	Priority   int    // higher runs first
	State      JobState
	AgentPID   int // pid of the assigned agent, 0 when unassigned
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStatePending  JobState = "pending"
	JobStateRunning  JobState = "running"
	JobStateComplete JobState = "complete"
	JobStateFailed   JobState = "failed"
)

// Terminal reports whether the state is final and should be flushed to storage.
func (s JobState) Terminal() bool {
	return s == JobStateComplete || s == JobStateFailed
}

// Agent represents a live worker process executing one job.
// Owned by the supervisor; jobs hold only the PID as a weak reference.
type Agent struct {
	PID       int
	HostID    string
	Kind      string
	JobID     string
	State     AgentState
	StartedAt time.Time
	LastHeard time.Time
}

// AgentState represents the lifecycle state of an agent process
type AgentState string

const (
	AgentStateSpawning AgentState = "spawning"
	AgentStateReady    AgentState = "ready"
	AgentStateWorking  AgentState = "working"
	AgentStateDying    AgentState = "dying"
	AgentStateDead     AgentState = "dead"
)

// Live reports whether the agent still has a running OS process behind it.
func (s AgentState) Live() bool {
	return s != AgentStateDead
}

// EventKind tags the closed set of events the scheduler loop dispatches on.
type EventKind string

const (
	EventAgentDeath     EventKind = "agent.death"
	EventAgentUpdate    EventKind = "agent.update"
	EventDatabaseUpdate EventKind = "database.update"
	EventSchedulerClose EventKind = "scheduler.close"
	EventConfigReload   EventKind = "config.reload"
)

// Death carries the OS exit of one reaped agent process.
type Death struct {
	PID    int
	Status int // exit code; non-zero fails the job
}
