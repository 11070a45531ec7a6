package activity

import (
	"fmt"
	"strings"
	"time"
)

// DisplayOutput is the compact record pushed to the wall display. Miles are
// pre-formatted to two decimals so the display never does arithmetic.
type DisplayOutput struct {
	TotalMiles     string    `json:"total_miles" validate:"required"`
	LastUpdated    time.Time `json:"last_updated" validate:"required"`
	SourceCount    int       `json:"source_count" validate:"gte=0"`
	DisplayMessage string    `json:"display_message" validate:"required,max=120"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// DisplayFromSummary builds the display record from an aggregated summary.
func DisplayFromSummary(s Summary) DisplayOutput {
	names := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		names = append(names, string(src))
	}

	miles := fmt.Sprintf("%.2f", s.TotalMiles)
	msg := fmt.Sprintf("%s miles from %s", miles, strings.Join(names, ", "))
	if len(names) == 0 {
		msg = fmt.Sprintf("%s miles", miles)
	}

	return DisplayOutput{
		TotalMiles:     miles,
		LastUpdated:    s.LastUpdated,
		SourceCount:    len(s.Sources),
		DisplayMessage: msg,
		GeneratedAt:    time.Now().UTC(),
	}
}

// DisplayFallback is shown when no aggregated data is available yet.
func DisplayFallback(message string) DisplayOutput {
	if message == "" {
		message = "No data available"
	}
	return DisplayOutput{
		TotalMiles:     "0.00",
		LastUpdated:    time.Now().UTC(),
		SourceCount:    0,
		DisplayMessage: message,
		GeneratedAt:    time.Now().UTC(),
	}
}
