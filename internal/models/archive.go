package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchiveStatus tracks an archive through the pipeline.
type ArchiveStatus string

const (
	StatusIdle       ArchiveStatus = "idle"
	StatusLoading    ArchiveStatus = "loading"
	StatusProcessing ArchiveStatus = "processing"
	StatusAnalyzing  ArchiveStatus = "analyzing"
	StatusRepairing  ArchiveStatus = "repairing"
	StatusCompleted  ArchiveStatus = "completed"
	StatusError      ArchiveStatus = "error"
	StatusCorrupted  ArchiveStatus = "corrupted"
	StatusPartial    ArchiveStatus = "partial"
)

// Terminal reports whether the status ends the pipeline for an archive.
func (s ArchiveStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCorrupted, StatusPartial:
		return true
	}
	return false
}

// Archive is the aggregate for one ingested archive.
type Archive struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Size   int64         `json:"size"`
	Status ArchiveStatus `json:"status"`

	// FileTree is owned exclusively by this archive.
	FileTree []*FileNode `json:"file_tree,omitempty"`

	Format      string         `json:"format,omitempty"`
	HealthScore float64        `json:"health_score"`
	Progress    float64        `json:"progress"`
	Errors      []ArchiveError `json:"errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewArchive creates an idle archive record.
func NewArchive(name string, size int64) *Archive {
	now := time.Now().UTC()
	return &Archive{
		ID:          uuid.New().String(),
		Name:        name,
		Size:        size,
		Status:      StatusIdle,
		HealthScore: 1.0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus transitions the archive and stamps the update time.
func (a *Archive) SetStatus(status ArchiveStatus) {
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
}

// AddError appends a condition and downgrades status for critical ones.
func (a *Archive) AddError(e ArchiveError) {
	a.Errors = append(a.Errors, e)
	if e.Severity == SeverityCritical {
		a.SetStatus(StatusError)
	}
}

// FileCount returns the number of file nodes in the tree.
func (a *Archive) FileCount() int {
	files, _ := CountNodes(a.FileTree)
	return files
}
