package generation

import (
	"fmt"
	"strings"

	"itinerary-service/internal/entity"
)

const systemInstruction = "You are a travel planner. You answer only with valid JSON, without commentary."

// BuildPrompt asks for a day-by-day plan shaped like []entity.Day.
func BuildPrompt(destination string, durationDays int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-day travel itinerary for %s.\n", durationDays, destination)
	fmt.Fprintf(&b, "Return exactly %d days as a JSON array. ", durationDays)
	b.WriteString("Each element must have the fields \"day\" (integer starting at 1), \"theme\" (string) ")
	fmt.Fprintf(&b, "and \"activities\" (array of exactly %d objects).\n", len(entity.TimeSlots))
	b.WriteString("Each activity has \"time\", \"description\" and \"location\". ")
	fmt.Fprintf(&b, "The %d activities of a day use the times %s, each exactly once.\n", len(entity.TimeSlots), quotedSlots())
	b.WriteString("Example element:\n")
	b.WriteString(`{"day":1,"theme":"Old town","activities":[`)
	for i, slot := range entity.TimeSlots {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"time":%q,"description":"...","location":"..."}`, slot)
	}
	b.WriteString(`]}`)
	return b.String()
}

func quotedSlots() string {
	q := make([]string, len(entity.TimeSlots))
	for i, s := range entity.TimeSlots {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q[:len(q)-1], ", ") + " and " + q[len(q)-1]
}
