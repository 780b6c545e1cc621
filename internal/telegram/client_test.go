package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/mtvedt/qalyboot/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"survey=2", "survey\\=2"},
		{"30-39", "30\\-39"},
		{"-0.03", "\\-0\\.03"},
		{"vs-full-health", "vs\\-full\\-health"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		result := escapeMarkdownV2(tt.input)
		if result != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatRunMessage(t *testing.T) {
	run := &models.RunSummary{
		RunID:      "run-1",
		CreatedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Dataset:    "panel.csv",
		Replicates: 200,
		Retained:   194,
		Dropped:    6,
		Coefficients: []models.CoefficientSummary{
			{
				Name: "survey=2",
				Quantiles: models.Quantiles{
					P025: -0.051, P25: -0.040, P50: -0.032, P75: -0.024, P975: -0.012,
				},
				Significant: true,
			},
			{
				Name: "sex=male",
				Quantiles: models.Quantiles{
					P025: -0.010, P25: -0.002, P50: 0.001, P75: 0.004, P975: 0.011,
				},
				Significant: false,
			},
		},
		Bands: []models.GroupBand{
			{
				AgeGroup: "30-39",
				Type:     models.QALYRaw,
				Quantiles: models.Quantiles{
					P025: 1.52, P25: 1.58, P50: 1.61, P75: 1.66, P975: 1.72,
				},
			},
		},
	}

	message := formatRunMessage(run)

	for _, want := range []string{
		"run\\-1",
		"panel\\.csv",
		"194 retained / 6 dropped of 200",
		"survey\\=2",
		"30\\-39 raw",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, message)
		}
	}

	// Insignificant coefficients stay out of the message body.
	if strings.Contains(message, "sex\\=male") {
		t.Error("Expected insignificant coefficient to be omitted")
	}
	if !strings.Contains(message, "1 of 2") {
		t.Errorf("Expected significance count '1 of 2' in message, got:\n%s", message)
	}
}

func TestFormatRunMessageNoSignificantCoefficients(t *testing.T) {
	run := &models.RunSummary{
		RunID:      "run-2",
		CreatedAt:  time.Now().Add(-time.Minute),
		Replicates: 50,
		Retained:   50,
	}

	message := formatRunMessage(run)
	if !strings.Contains(message, "none") {
		t.Errorf("Expected 'none' marker for zero significant coefficients, got:\n%s", message)
	}
}
