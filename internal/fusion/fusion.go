// Package fusion folds the two-model Smart Veto score pair into a single
// outcome. The ensemble exists to suppress false alarms: a vetoed frame is
// treated as evidence of non-violence, not merely ignored.
package fusion

import "github.com/psdew2ewqws/NexaraVision-sub000/internal/models"

// Fuse resolves the outcome for one detection. primaryThreshold is the
// session's configured primary cutoff on the 0-100 scale and only applies
// when the server sent no explicit result (browser-fallback mode).
func Fuse(det *models.Detection, primaryThreshold float64) models.Outcome {
	if det.HasResult {
		switch det.Outcome {
		case models.OutcomeVetoed:
			return models.OutcomeVetoed
		case models.OutcomeViolence:
			return models.OutcomeViolence
		default:
			return models.OutcomeSafe
		}
	}

	if det.PrimaryScore*100 >= primaryThreshold {
		// No veto ran; trigger-eligible but without ensemble confirmation.
		return models.OutcomeUnknown
	}
	return models.OutcomeSafe
}
