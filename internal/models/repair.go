package models

// RepairedSection records one change a repair strategy made.
type RepairedSection struct {
	Line     int    `json:"line"`
	Original string `json:"original"`
	Repaired string `json:"repaired"`
	Reason   string `json:"reason"`
}

// RepairResult is the outcome of running a repair strategy over text.
// Strategies always return a result; unrecoverable input comes back
// unchanged with zero confidence.
type RepairResult struct {
	RepairedContent string            `json:"repaired_content"`
	Sections        []RepairedSection `json:"sections,omitempty"`
	Confidence      float64           `json:"confidence"`
	Complete        bool              `json:"complete"`
}

// Changed reports whether the strategy altered the content.
func (r *RepairResult) Changed() bool {
	return len(r.Sections) > 0
}

// ClampConfidence keeps confidence inside [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// RepairOutcome is the result of a handler-level archive repair. A
// failed repair is expressed here, never as a panic.
type RepairOutcome struct {
	Success    bool        `json:"success"`
	Nodes      []*FileNode `json:"nodes,omitempty"`
	Log        []string    `json:"log,omitempty"`
	Confidence float64     `json:"confidence"`
}

// FailedRepair builds an unsuccessful outcome with log lines.
func FailedRepair(log ...string) *RepairOutcome {
	return &RepairOutcome{Success: false, Log: log}
}
