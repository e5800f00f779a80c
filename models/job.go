package models

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobProcessDocument JobType = "process_document"
	JobScrapeURL       JobType = "scrape_url"
)

// Job is the queue payload. The job ID equals the document ID so duplicate
// enqueues collapse; authoritative status lives on the Document row.
type Job struct {
	ID         string    `json:"id"`
	Type       JobType   `json:"type"`
	CustomerID uuid.UUID `json:"customer_id"`
	DocumentID uuid.UUID `json:"document_id"`

	// ProcessDocument fields
	BlobKey  string       `json:"blob_key,omitempty"`
	Filename string       `json:"filename,omitempty"`
	DocType  DocumentType `json:"doc_type,omitempty"`

	// ScrapeURL fields
	SourceURL string `json:"source_url,omitempty"`

	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type JobStage string

const (
	StageDownloading JobStage = "downloading"
	StageFetching    JobStage = "fetching"
	StageParsing     JobStage = "parsing"
	StageEmbedding   JobStage = "embedding"
	StageStoring     JobStage = "storing"
	StageFinalizing  JobStage = "finalizing"
	StageCompleted   JobStage = "completed"
)

// JobProgress is published on each stage transition.
type JobProgress struct {
	JobID   string   `json:"job_id"`
	Stage   JobStage `json:"stage"`
	Percent int      `json:"percent"`
}

// JobEvent notifies observers of terminal outcomes and progress.
type JobEvent struct {
	JobID    string       `json:"job_id"`
	Kind     JobEventKind `json:"kind"`
	Progress *JobProgress `json:"progress,omitempty"`
	Error    string       `json:"error,omitempty"`
}

type JobEventKind string

const (
	JobEventProgress  JobEventKind = "progress"
	JobEventCompleted JobEventKind = "completed"
	JobEventFailed    JobEventKind = "failed"
)
