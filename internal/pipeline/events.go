package pipeline

import (
	"time"

	"github.com/arcmill/arcmill/internal/models"
)

// Event represents a pipeline event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Archive   *models.Archive
	Node      *models.FileNode
	Error     error
	Progress  *Progress
}

// EventType defines pipeline event types.
type EventType string

const (
	EventStarted     EventType = "started"
	EventDetecting   EventType = "detecting"
	EventParsing     EventType = "parsing"
	EventRepairing   EventType = "repairing"
	EventProgress    EventType = "progress"
	EventFileIndexed EventType = "file_indexed"
	EventFileError   EventType = "file_error"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
)

// Progress tracks the current run across all archives in flight.
type Progress struct {
	Phase          string
	Archive        string
	TotalArchives  int
	LoadedArchives int
	BytesRead      int64
	TotalBytes     int64
	Percent        float64
	StartTime      time.Time
	Errors         []error
}
