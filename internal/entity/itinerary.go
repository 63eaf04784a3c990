package entity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type TimeSlot string

const (
	Morning   TimeSlot = "Morning"
	Afternoon TimeSlot = "Afternoon"
	Evening   TimeSlot = "Evening"
)

// TimeSlots lists the slots every day must cover, in order.
var TimeSlots = []TimeSlot{Morning, Afternoon, Evening}

// SlotList renders TimeSlots as "Morning, Afternoon and Evening".
func SlotList() string {
	names := make([]string, len(TimeSlots))
	for i, s := range TimeSlots {
		names[i] = string(s)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

type Activity struct {
	Time        TimeSlot `json:"time" validate:"required,oneof=Morning Afternoon Evening"`
	Description string   `json:"description" validate:"required"`
	Location    string   `json:"location" validate:"required"`
}

type Day struct {
	Day        int        `json:"day" validate:"gte=1"`
	Theme      string     `json:"theme" validate:"required"`
	Activities []Activity `json:"activities" validate:"len=3,unique=Time,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateItinerary checks days against the Day/Activity schema: wantDays
// entries numbered 1..wantDays, each with one activity per time slot.
func ValidateItinerary(days []Day, wantDays int) error {
	if len(days) != wantDays {
		return fmt.Errorf("itinerary: expected %d days, got %d", wantDays, len(days))
	}

	for i := range days {
		path := fmt.Sprintf("days[%d]", i)
		if err := validate.Struct(&days[i]); err != nil {
			return describe(path, err)
		}
		if days[i].Day != i+1 {
			return fmt.Errorf("itinerary: %s.day: expected %d, got %d", path, i+1, days[i].Day)
		}
	}
	return nil
}

func describe(path string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("itinerary: %s: %w", path, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		// drop the struct name: "Day.activities[0].time" -> "activities[0].time"
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s.%s: %s", path, field, message(fe)))
	}
	return fmt.Errorf("itinerary: %s", strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "len":
		return "must contain exactly " + fe.Param() + " activities"
	case "unique":
		return "must cover " + SlotList() + " exactly once"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
