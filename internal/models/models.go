package models

import "time"

// TransitMode represents the type of rail service a line belongs to
type TransitMode string

const (
	ModeTube       TransitMode = "tube"
	ModeDLR        TransitMode = "dlr"
	ModeOverground TransitMode = "overground"
	ModeRail       TransitMode = "national-rail"
	ModeElizabeth  TransitMode = "elizabeth-line"
	ModeWalking    TransitMode = "walking"
)

// modeRank orders modes for choosing a hub's representative coordinates:
// when the same hub is seen from several lines, the highest-ranked mode's
// station supplies the lat/lon.
var modeRank = map[TransitMode]int{
	ModeTube:       4,
	ModeDLR:        3,
	ModeElizabeth:  3,
	ModeOverground: 2,
	ModeRail:       1,
}

// ModeRank returns the coordinate-preference rank for a mode (0 if unknown)
func ModeRank(m TransitMode) int {
	return modeRank[m]
}

// Direction tags a line edge with the sequence direction it was derived from
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// TransferKey is the edge key shared by all walking-transfer edges.
// Line edges use their line ID as key, so multiple lines between the same
// hub pair coexist in the multigraph.
const TransferKey = "transfer"

// Station is a single provider stop point grouped under a hub
type Station struct {
	Name     string `json:"name"`
	NaptanID string `json:"naptan_id"`
}

// Hub is a graph node: every station sharing a top-most parent identifier
type Hub struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Lat                 float64   `json:"lat"`
	Lon                 float64   `json:"lon"`
	Zone                *string   `json:"zone"`
	Modes               []string  `json:"modes"`
	Lines               []string  `json:"lines"`
	ConstituentStations []Station `json:"constituent_stations"`
	PrimaryNaptanID     string    `json:"primary_naptan_id"`
}

// HasLine reports whether the hub is served by the given line ID
func (h *Hub) HasLine(lineID string) bool {
	for _, l := range h.Lines {
		if l == lineID {
			return true
		}
	}
	return false
}

// HasMode reports whether the hub is served by the given mode
func (h *Hub) HasMode(mode TransitMode) bool {
	for _, m := range h.Modes {
		if m == string(mode) {
			return true
		}
	}
	return false
}

// Edge is a directed edge in the hub multigraph. Line edges carry their
// line ID as Key; transfer edges carry TransferKey and Transfer=true.
// Weight is nil only while the graph is under construction.
type Edge struct {
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Key       string   `json:"key"`
	Line      string   `json:"line"`
	LineName  string   `json:"line_name"`
	Mode      string   `json:"mode"`
	Direction string   `json:"direction"`
	Branch    *string  `json:"branch"`
	Transfer  bool     `json:"transfer"`
	Weight    *float64 `json:"weight"`
}

// WeightRecord is one entry in the calculated-weights artifact, produced by
// stages 5 and 6 and consumed by the validation gate and the merge stage.
type WeightRecord struct {
	Source              string  `json:"source"`
	Target              string  `json:"target"`
	Line                string  `json:"line"`
	Mode                string  `json:"mode"`
	DurationMinutes     float64 `json:"duration_minutes"`
	CalculatedTimestamp string  `json:"calculated_timestamp"`
}

// TransferPair records one unordered hub pair discovered by the proximity
// stage, keyed by the hubs' primary naptan IDs for the journey lookup.
type TransferPair struct {
	HubA         string `json:"hub_a"`
	HubB         string `json:"hub_b"`
	PrimaryA     string `json:"primary_a"`
	PrimaryB     string `json:"primary_b"`
	DiscoveredAt string `json:"discovered_at,omitempty"`
}

// CorrectionOp enumerates the hand-audited data corrections applied to the
// base graph where the provider's sequence data is known-wrong.
type CorrectionOp string

const (
	CorrectionRemoveLine    CorrectionOp = "remove_line"
	CorrectionInsertEdge    CorrectionOp = "insert_edge"
	CorrectionEnsureReverse CorrectionOp = "ensure_reverse"
)

// Correction is a single audited data-correction record
type Correction struct {
	Op     CorrectionOp
	Hub    string
	Target string
	Line   string
	Mode   TransitMode
	Reason string
}

// MeetupUser is one participant in a meetup query
type MeetupUser struct {
	StartHub       string `json:"start_hub"`
	WalkMinutes    int    `json:"walk_minutes"`
	StartStationID string `json:"start_station_id"`
}

// Candidate is one ranked meeting-point result
type Candidate struct {
	HubID          string    `json:"hub_id"`
	Name           string    `json:"name"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	PerUserMinutes []float64 `json:"per_user_minutes"`
	TotalMinutes   float64   `json:"total_minutes"`
	AverageMinutes float64   `json:"average_minutes"`
}

// MeetupResult is the query engine's final answer
type MeetupResult struct {
	Best         Candidate   `json:"best"`
	Alternatives []Candidate `json:"alternatives"`
	EvaluatedAt  time.Time   `json:"evaluated_at"`
}
