package storage

import (
	"github.com/licenseforge/foreman/pkg/types"
)

// Store defines the interface for persistent job state.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByState(state types.JobState) ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// ResetQueue returns jobs stranded in the running state to pending.
	// Used at startup after an unclean shutdown.
	ResetQueue() (int, error)

	// Utility
	Close() error
}
