package domain

import (
	"fmt"
	"time"
)

// Stage names an ingestion pipeline stage.
type Stage string

// Ingestion stages in pipeline order.
const (
	StageSanitize Stage = "sanitize"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageUpsert   Stage = "upsert"
)

// AllStages returns the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{StageSanitize, StageChunk, StageEmbed, StageUpsert}
}

// StageCounts counts items per outcome for one stage.
type StageCounts struct {
	Processed int
	Skipped   int
	Failed    int
}

// ItemError records a failed item so the driver can continue.
type ItemError struct {
	DocumentID string
	ChunkID    string
	Stage      Stage
	Err        error
}

// Error implements the error interface.
func (e ItemError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Stage, e.DocumentID, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.DocumentID, e.Err)
}

// Unwrap returns the underlying error.
func (e ItemError) Unwrap() error {
	return e.Err
}

// IngestStatus is the overall status of an ingestion run.
type IngestStatus string

// Ingestion statuses.
const (
	IngestIdle             IngestStatus = "idle"
	IngestRunning          IngestStatus = "running"
	IngestSuccess          IngestStatus = "success"
	IngestTransientFailure IngestStatus = "transient_failure"
	IngestError            IngestStatus = "error"
)

// IngestReport summarises an ingestion run.
type IngestReport struct {
	// RunID uniquely identifies the run.
	RunID string

	// Index is the target index name.
	Index string

	// Status is the overall outcome.
	Status IngestStatus

	// Documents counts whole documents.
	Documents StageCounts

	// Stages counts items per pipeline stage. Sanitize and chunk count
	// documents, embed and upsert count chunks.
	Stages map[Stage]*StageCounts

	// FailedItems lists per-item failures.
	FailedItems []ItemError

	// Warnings lists degraded behaviour (e.g. PII masking skipped).
	Warnings []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewIngestReport returns an empty report with every stage initialised.
func NewIngestReport(runID, index string) *IngestReport {
	r := &IngestReport{
		RunID:     runID,
		Index:     index,
		Status:    IngestRunning,
		Stages:    make(map[Stage]*StageCounts, 4),
		StartedAt: time.Now(),
	}
	for _, s := range AllStages() {
		r.Stages[s] = &StageCounts{}
	}
	return r
}

// Stage returns the counts for a stage, creating them if needed.
func (r *IngestReport) Stage(s Stage) *StageCounts {
	c, ok := r.Stages[s]
	if !ok {
		c = &StageCounts{}
		r.Stages[s] = c
	}
	return c
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *IngestReport) Clone() *IngestReport {
	out := *r
	out.Stages = make(map[Stage]*StageCounts, len(r.Stages))
	for k, v := range r.Stages {
		c := *v
		out.Stages[k] = &c
	}
	out.FailedItems = append([]ItemError(nil), r.FailedItems...)
	out.Warnings = append([]string(nil), r.Warnings...)
	return &out
}

// Duration returns how long the run took, or has taken so far.
func (r *IngestReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
