package pipeline

// terminalStations maps each timetabled line to the station IDs the
// timetable endpoint is queried from. Terminals are curated by hand: a
// terminal is a hub with a single neighbour on the line, and querying from
// every terminal covers all branches of the line's schedule.
var terminalStations = map[string][]string{
	"bakerloo":           {"940GZZLUHAW", "940GZZLUEAC"},
	"central":            {"940GZZLUEBY", "940GZZLUWRP", "940GZZLUEPG", "940GZZLUHLT"},
	"circle":             {"940GZZLUHSC", "940GZZLUERC"},
	"district":           {"940GZZLUEBY", "940GZZLURMD", "940GZZLUWIM", "940GZZLUUPM", "940GZZLUKWG", "940GZZLUEHM"},
	"hammersmith-city":   {"940GZZLUHSC", "940GZZLUBKG"},
	"jubilee":            {"940GZZLUSTD", "940GZZLUSTM"},
	"metropolitan":       {"940GZZLUAMS", "940GZZLUCSM", "940GZZLUUXB", "940GZZLUWAF", "940GZZLUALD"},
	"northern":           {"940GZZLUEGW", "940GZZLUHBT", "940GZZLUMDN", "940GZZLUBTK"},
	"piccadilly":         {"940GZZLUUXB", "940GZZLUHR5", "940GZZLUCKS"},
	"victoria":           {"940GZZLUWWL", "940GZZLUBXN"},
	"waterloo-city":      {"940GZZLUWLO", "940GZZLUBNK"},
	"dlr":                {"940GZZDLBNK", "940GZZDLTWG", "940GZZDLLEW", "940GZZDLWLA", "940GZZDLBEC", "940GZZDLSTD"},
}

// fallbackEdge identifies one directed line edge whose timing never appears
// in timetables and must be weighted via the journey endpoint instead
type fallbackEdge struct {
	Line   string
	Source string
	Target string
}

// timetableFallbacks is the allow-list of edges structurally missing from
// timetable data: branch crossovers and depot-side workings the schedule
// feed never represents.
var timetableFallbacks = []fallbackEdge{
	{Line: "northern", Source: "940GZZLUCND", Target: "940GZZLUEUS"},
	{Line: "northern", Source: "940GZZLUEUS", Target: "940GZZLUCND"},
	{Line: "piccadilly", Source: "940GZZLUHR4", Target: "940GZZLUHRC"},
	{Line: "district", Source: "940GZZLUTNG", Target: "940GZZLUEHM"},
	{Line: "dlr", Source: "940GZZDLCGT", Target: "940GZZDLPOP"},
}
