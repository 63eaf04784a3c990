package entity_test

import (
	"strings"
	"testing"

	"itinerary-service/internal/entity"
)

func validDay(n int) entity.Day {
	return entity.Day{
		Day:   n,
		Theme: "Temples and gardens",
		Activities: []entity.Activity{
			{Time: entity.Morning, Description: "Visit Fushimi Inari", Location: "Fushimi"},
			{Time: entity.Afternoon, Description: "Walk the Philosopher's Path", Location: "Sakyo"},
			{Time: entity.Evening, Description: "Dinner in Pontocho", Location: "Pontocho"},
		},
	}
}

func TestValidateItinerary_OK(t *testing.T) {
	days := []entity.Day{validDay(1), validDay(2), validDay(3)}
	if err := entity.ValidateItinerary(days, 3); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestValidateItinerary_Rejects(t *testing.T) {
	missingSlot := validDay(1)
	missingSlot.Activities = missingSlot.Activities[:2]

	duplicateSlot := validDay(1)
	duplicateSlot.Activities[2].Time = entity.Morning

	unknownSlot := validDay(1)
	unknownSlot.Activities[1].Time = "Night"

	emptyTheme := validDay(1)
	emptyTheme.Theme = ""

	emptyLocation := validDay(1)
	emptyLocation.Activities[0].Location = ""

	wrongNumber := validDay(2)

	tests := []struct {
		name    string
		days    []entity.Day
		want    int
		wantMsg string
	}{
		{"missing time slot", []entity.Day{missingSlot}, 1, "days[0].activities"},
		{"duplicate time slot", []entity.Day{duplicateSlot}, 1, "exactly once"},
		{"unknown time slot", []entity.Day{unknownSlot}, 1, "days[0].activities[1].time"},
		{"empty theme", []entity.Day{emptyTheme}, 1, "days[0].theme"},
		{"empty location", []entity.Day{emptyLocation}, 1, "days[0].activities[0].location"},
		{"day not sequential", []entity.Day{wrongNumber}, 1, "days[0].day"},
		{"too few days", []entity.Day{validDay(1)}, 2, "expected 2 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := entity.ValidateItinerary(tt.days, tt.want)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("expected error to mention %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestSlotList(t *testing.T) {
	if got := entity.SlotList(); got != "Morning, Afternoon and Evening" {
		t.Fatalf("unexpected slot list %q", got)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	if entity.StatusProcessing.Terminal() {
		t.Fatalf("processing must not be terminal")
	}
	if !entity.StatusCompleted.Terminal() || !entity.StatusFailed.Terminal() {
		t.Fatalf("completed and failed must be terminal")
	}
}
