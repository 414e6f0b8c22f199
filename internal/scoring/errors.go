package scoring

import "errors"

var (
	errMaxScore       = errors.New("scoring: max_score must be positive")
	errNegativePoints = errors.New("scoring: severity points must not be negative")
	errFlagCount      = errors.New("scoring: flag_event_count must be positive")
)
