package orderstatus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromiseDate(t *testing.T) {
	// 2025-06-09 is a Monday.
	tests := []struct {
		name      string
		today     string
		wantDate  string
		wantLabel string
	}{
		{"Monday promises Friday", "2025-06-09", "2025-06-13", LabelFriday},
		{"Tuesday promises Friday", "2025-06-10", "2025-06-13", LabelFriday},
		{"Wednesday promises Friday", "2025-06-11", "2025-06-13", LabelFriday},
		{"Thursday promises next Monday", "2025-06-12", "2025-06-16", LabelEarlyNextWeek},
		{"Friday promises next Monday", "2025-06-13", "2025-06-16", LabelEarlyNextWeek},
		{"Saturday promises next Monday", "2025-06-14", "2025-06-16", LabelEarlyNextWeek},
		{"Sunday promises next Monday", "2025-06-15", "2025-06-16", LabelEarlyNextWeek},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			today, err := time.Parse(DateLayout, tc.today)
			assert.NoError(t, err)

			date, label := PromiseDate(today)
			assert.Equal(t, tc.wantDate, date.Format(DateLayout))
			assert.Equal(t, tc.wantLabel, label)
			assert.True(t, date.After(today), "promise date must be strictly in the future")
		})
	}
}

func TestPromiseDate_IgnoresTimeOfDay(t *testing.T) {
	lateWednesday := time.Date(2025, 6, 11, 23, 45, 0, 0, time.UTC)
	date, label := PromiseDate(lateWednesday)
	assert.Equal(t, "2025-06-13", date.Format(DateLayout))
	assert.Equal(t, LabelFriday, label)
}

func TestExtractReference(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"it's order #10234", "10234"},
		{"my order number is 10234, thanks", "10234"},
		{"ORD-4412 I think", "ORD-4412"},
		{"ord-4412 lowercase", "ORD-4412"},
		{"I don't know", ""},
		{"sometime last week", ""},
		{"", ""},
		{"maybe 123?", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ExtractReference(tc.message), tc.message)
	}
}
