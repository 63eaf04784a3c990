package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"itinerary-service/internal/entity"
	"itinerary-service/internal/retry"
)

var ErrNoJSONArray = errors.New("generation: no JSON array in model output")

// ExtractItinerary pulls the JSON array between the first '[' and the last ']'
// of text and validates it against the Day schema. Every failure is retryable.
func ExtractItinerary(text string, durationDays int) ([]entity.Day, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, retry.Retryable(ErrNoJSONArray)
	}

	var days []entity.Day
	if err := json.Unmarshal([]byte(text[start:end+1]), &days); err != nil {
		return nil, retry.Retryable(fmt.Errorf("generation: parse itinerary: %w", err))
	}
	if err := entity.ValidateItinerary(days, durationDays); err != nil {
		return nil, retry.Retryable(fmt.Errorf("generation: invalid itinerary: %w", err))
	}
	return days, nil
}
