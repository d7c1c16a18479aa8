// Package rebuild runs the reindex-and-swap pipeline: it loads the published
// dataset into a fresh generation index, moves the alias onto it and deletes
// the generations it replaced. Runs are serialized by a Scheduler.
package rebuild

import (
	"slices"
	"time"
)

// Trigger sources.
const (
	SourceWebhook = "webhook"
	SourceDevMode = "webhook-dev"
	SourceKafka   = "kafka"
	SourceCLI     = "cli"
)

// Trigger asks for one run. An empty ID is filled in by the Orchestrator.
type Trigger struct {
	ID     string
	Source string
}

// Run is the record of one rebuild.
type Run struct {
	ID              string     `json:"id"`
	Trigger         string     `json:"trigger"`
	Alias           string     `json:"alias"`
	Generation      string     `json:"generation,omitempty"`
	Previous        []string   `json:"previous,omitempty"`
	State           State      `json:"state"`
	FailedIn        string     `json:"failed_in,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	Cities          int        `json:"cities"`
	Baggers         int        `json:"baggers"`
	FailedDocuments int        `json:"failed_documents"`
	Unresolved      int        `json:"unresolved_references"`
	Deleted         []string   `json:"deleted,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of r.
func (r Run) Clone() Run {
	r.Previous = slices.Clone(r.Previous)
	r.Deleted = slices.Clone(r.Deleted)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}

// Duration is the run's wall time, or zero while it is in progress.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
