package tfl

// StopPoint is one provider stop with the hub-grouping metadata the graph
// builder needs. TopMostParentID is empty for stops that are their own hub.
type StopPoint struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Lat             float64        `json:"lat"`
	Lon             float64        `json:"lon"`
	ParentID        string         `json:"parentId"`
	TopMostParentID string         `json:"topMostParentId"`
	Zone            string         `json:"zone"`
	Modes           []string       `json:"modes"`
	Lines           []LineIdentity `json:"lines"`
}

// LineIdentity names one line serving a stop point
type LineIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RouteSequence is the response of the line route-sequence endpoint: the
// stop metadata plus the ordered station runs per branch.
type RouteSequence struct {
	LineID             string              `json:"lineId"`
	LineName           string              `json:"lineName"`
	Direction          string              `json:"direction"`
	Mode               string              `json:"mode"`
	StopPointSequences []StopPointSequence `json:"stopPointSequences"`
}

// StopPointSequence is one branch's ordered run of stop points
type StopPointSequence struct {
	BranchID  int         `json:"branchId"`
	Direction string      `json:"direction"`
	StopPoint []StopPoint `json:"stopPoint"`
}

// Timetable is the response of the line timetable endpoint, reduced to the
// per-branch arrival offsets the weight calculator consumes
type Timetable struct {
	LineID string           `json:"lineId"`
	Routes []TimetableRoute `json:"routes"`
}

// TimetableRoute is one scheduled route pattern within a timetable
type TimetableRoute struct {
	StationIntervals []StationIntervalSet `json:"stationIntervals"`
}

// StationIntervalSet is one branch's ordered stops with cumulative arrival
// offsets in minutes relative to the queried terminal
type StationIntervalSet struct {
	ID        string            `json:"id"`
	Intervals []StationInterval `json:"intervals"`
}

// StationInterval is a single stop's cumulative offset from the terminal
type StationInterval struct {
	StopID        string  `json:"stopId"`
	TimeToArrival float64 `json:"timeToArrival"`
}

// journeyResponse is the wire shape of the journey-results endpoint; only
// the journey durations are decoded
type journeyResponse struct {
	Journeys []struct {
		Duration int `json:"duration"`
	} `json:"journeys"`
}

// lineSummary is the wire shape of the line listing per mode
type lineSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mode string `json:"modeName"`
}

// Line describes one line of a configured mode
type Line struct {
	ID   string
	Name string
	Mode string
}
