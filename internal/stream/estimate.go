package stream

// MemoryEstimate predicts peak memory for a chunked read.
type MemoryEstimate struct {
	FileSize             int64   `json:"file_size"`
	ChunkSize            int     `json:"chunk_size"`
	PeakMemory           int64   `json:"peak_memory"`
	Budget               int64   `json:"budget"`
	Safe                 bool    `json:"safe"`
	RecommendedChunkSize int     `json:"recommended_chunk_size"`
	BudgetFraction       float64 `json:"budget_fraction"`
}

// EstimateParams tunes the estimation heuristics. The defaults model one
// chunk being produced, one buffered, and one consumed.
type EstimateParams struct {
	PeakMultiplier    int
	SafetyFraction    float64
	RecommendFraction float64
}

// DefaultEstimateParams returns the stock heuristics.
func DefaultEstimateParams() EstimateParams {
	return EstimateParams{
		PeakMultiplier:    3,
		SafetyFraction:    0.10,
		RecommendFraction: 0.03,
	}
}

// Estimate is a pure prediction, not a measurement. Peak memory is
// PeakMultiplier chunks; a read is safe while that stays strictly under
// SafetyFraction of the budget. When unsafe, the recommended chunk size
// shrinks to RecommendFraction of the budget.
func (p EstimateParams) Estimate(fileSize int64, chunkSize int, budget int64) MemoryEstimate {
	peak := int64(p.PeakMultiplier) * int64(chunkSize)

	est := MemoryEstimate{
		FileSize:             fileSize,
		ChunkSize:            chunkSize,
		PeakMemory:           peak,
		Budget:               budget,
		RecommendedChunkSize: chunkSize,
	}

	if budget > 0 {
		est.BudgetFraction = float64(peak) / float64(budget)
		est.Safe = float64(peak) < p.SafetyFraction*float64(budget)
	}

	if !est.Safe {
		recommended := int(p.RecommendFraction * float64(budget))
		if recommended < 1 {
			recommended = 1
		}
		est.RecommendedChunkSize = recommended
	}

	return est
}

// EstimateMemoryUsage predicts peak memory with the stock heuristics.
func EstimateMemoryUsage(fileSize int64, chunkSize int, budget int64) MemoryEstimate {
	return DefaultEstimateParams().Estimate(fileSize, chunkSize, budget)
}
