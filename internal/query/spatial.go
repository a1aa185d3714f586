package query

import (
	"github.com/leatham22/Friend-convenient-meetup/internal/geo"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

// SpatialFilter reduces the full hub set to the candidates worth costing:
// an ellipse around two starts, a buffered convex hull around three or
// more, intersected in both cases with the coverage circle around the
// starts' centroid.
type SpatialFilter struct {
	EllipseExpansionFactor float64
	HullBufferFraction     float64
	CoverageFraction       float64
}

// Candidates filters hubs down to the geometric search region. Start hubs
// are always part of the result.
func (f *SpatialFilter) Candidates(starts []*models.Hub, hubs []*models.Hub) []*models.Hub {
	points := make([]geo.Point, len(starts))
	for i, s := range starts {
		points[i] = geo.Point{Lat: s.Lat, Lon: s.Lon}
	}

	inRegion := f.regionTest(points)

	centroid := geo.Centroid(points)
	radius := geo.CoverageRadius(points, centroid, f.CoverageFraction)

	startIDs := make(map[string]bool, len(starts))
	for _, s := range starts {
		startIDs[s.ID] = true
	}

	var out []*models.Hub
	for _, h := range hubs {
		if startIDs[h.ID] {
			out = append(out, h)
			continue
		}
		p := geo.Point{Lat: h.Lat, Lon: h.Lon}
		if !inRegion(p) {
			continue
		}
		if geo.Distance(centroid, p) > radius {
			continue
		}
		out = append(out, h)
	}
	return out
}

// regionTest builds the first-stage geometric predicate for the starts
func (f *SpatialFilter) regionTest(points []geo.Point) func(geo.Point) bool {
	if len(points) == 2 {
		return f.ellipseTest(points[0], points[1])
	}

	hull := geo.ConvexHull(points)
	if len(hull) < 3 {
		// Collinear starts collapse the hull; fall back to an ellipse
		// between the two extreme points
		a, b := farthestPair(points)
		return f.ellipseTest(a, b)
	}
	buffered := geo.BufferHull(hull, f.HullBufferFraction)
	return func(p geo.Point) bool {
		return geo.InConvexPolygon(p, buffered)
	}
}

// ellipseTest returns the two-foci membership predicate. A major axis
// equal to the focal distance collapses the ellipse to the segment and
// rejects every off-line hub; the expansion factor keeps a usable tube.
func (f *SpatialFilter) ellipseTest(focusA, focusB geo.Point) func(geo.Point) bool {
	majorAxis := f.EllipseExpansionFactor * geo.Distance(focusA, focusB)
	return func(p geo.Point) bool {
		return geo.InEllipse(p, focusA, focusB, majorAxis)
	}
}

// farthestPair returns the two points with maximum pairwise separation
func farthestPair(points []geo.Point) (geo.Point, geo.Point) {
	a, b := points[0], points[0]
	best := -1.0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if d := geo.Distance(points[i], points[j]); d > best {
				best = d
				a, b = points[i], points[j]
			}
		}
	}
	return a, b
}
