package tfl

import "errors"

// Error kinds surfaced by the provider client. Callers branch with
// errors.Is; everything else wraps one of these or the raw transport error.
var (
	// ErrAuth means the API token was rejected. Never retried.
	ErrAuth = errors.New("tfl: authentication rejected")

	// ErrNotFound means the endpoint reported the requested entity does
	// not exist (unknown line, unsupported timetable mode).
	ErrNotFound = errors.New("tfl: not found")

	// ErrNoJourney means the journey planner found no itinerary between
	// the requested stop points.
	ErrNoJourney = errors.New("tfl: no journey")

	// ErrMalformed means the response body did not match the documented
	// schema.
	ErrMalformed = errors.New("tfl: malformed payload")

	// ErrRateLimited means the server signalled throttling. Retried with
	// backoff until attempts are exhausted.
	ErrRateLimited = errors.New("tfl: rate limited")

	// ErrTransport covers network failures, timeouts and 5xx responses
	// after retry exhaustion.
	ErrTransport = errors.New("tfl: transport failure")
)
