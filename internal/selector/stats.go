package selector

import "github.com/miradorstack/agentic-reviewer/internal/models"

// ComputeStats describes how a selection relates to the dataset it was drawn from.
// Averages of empty sets are reported as zero.
func ComputeStats(original, selected []models.Sample) models.SelectionStats {
	stats := models.SelectionStats{
		Original:              len(original),
		Selected:              len(selected),
		AvgConfidenceOriginal: meanConfidence(original),
		AvgConfidenceSelected: meanConfidence(selected),
	}
	if len(original) > 0 {
		stats.SelectionRate = float64(len(selected)) / float64(len(original))
	}
	return stats
}

func meanConfidence(samples []models.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range samples {
		total += s.Confidence
	}
	return total / float64(len(samples))
}
