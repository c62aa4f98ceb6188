package fusion

import (
	"testing"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

func TestFuse(t *testing.T) {
	tests := []struct {
		name      string
		det       models.Detection
		threshold float64
		want      models.Outcome
	}{
		{
			name: "explicit vetoed wins over high score",
			det:  models.Detection{PrimaryScore: 0.99, HasResult: true, Outcome: models.OutcomeVetoed},
			want: models.OutcomeVetoed,
		},
		{
			name: "explicit violence",
			det:  models.Detection{PrimaryScore: 0.91, HasResult: true, Outcome: models.OutcomeViolence},
			want: models.OutcomeViolence,
		},
		{
			name: "explicit safe with score above threshold stays safe",
			det:  models.Detection{PrimaryScore: 0.80, HasResult: true, Outcome: models.OutcomeSafe},
			want: models.OutcomeSafe,
		},
		{
			name:      "no result below threshold",
			det:       models.Detection{PrimaryScore: 0.30},
			threshold: 50,
			want:      models.OutcomeSafe,
		},
		{
			name:      "no result at threshold is unknown",
			det:       models.Detection{PrimaryScore: 0.50},
			threshold: 50,
			want:      models.OutcomeUnknown,
		},
		{
			name:      "no result above threshold is unknown",
			det:       models.Detection{PrimaryScore: 0.95},
			threshold: 50,
			want:      models.OutcomeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fuse(&tt.det, tt.threshold); got != tt.want {
				t.Errorf("Fuse() = %v, want %v", got, tt.want)
			}
		})
	}
}
