package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leatham22/Friend-convenient-meetup/internal/models"
)

func newFilter() *SpatialFilter {
	return &SpatialFilter{
		EllipseExpansionFactor: 1.2,
		HullBufferFraction:     0.005,
		CoverageFraction:       0.70,
	}
}

func hubAt(id string, lat, lon float64) *models.Hub {
	return &models.Hub{ID: id, Name: id, Lat: lat, Lon: lon, PrimaryNaptanID: id}
}

func TestCandidatesTwoUsers(t *testing.T) {
	ladbrokeGrove := hubAt("LG", 51.516, -0.176)
	canaryWharf := hubAt("CW", 51.504, -0.019)
	midway := hubAt("MID", 51.512, -0.100)
	luton := hubAt("LTN", 51.879, -0.376)

	starts := []*models.Hub{ladbrokeGrove, canaryWharf}
	all := []*models.Hub{ladbrokeGrove, canaryWharf, midway, luton}

	got := newFilter().Candidates(starts, all)
	ids := hubIDs(got)

	t.Run("both foci are always candidates", func(t *testing.T) {
		assert.Contains(t, ids, "LG")
		assert.Contains(t, ids, "CW")
	})

	t.Run("hub between the foci qualifies", func(t *testing.T) {
		assert.Contains(t, ids, "MID")
	})

	t.Run("hub far outside the ellipse is rejected", func(t *testing.T) {
		assert.NotContains(t, ids, "LTN")
	})
}

func TestCandidatesHull(t *testing.T) {
	// Three starts forming a triangle across central London
	starts := []*models.Hub{
		hubAt("NW", 51.55, -0.20),
		hubAt("NE", 51.55, -0.02),
		hubAt("S", 51.46, -0.11),
	}
	inside := hubAt("MID", 51.52, -0.11)
	outside := hubAt("FAR", 51.70, -0.11)

	all := append(append([]*models.Hub{}, starts...), inside, outside)
	got := newFilter().Candidates(starts, all)
	ids := hubIDs(got)

	t.Run("every start hub is a candidate", func(t *testing.T) {
		for _, s := range starts {
			assert.Contains(t, ids, s.ID)
		}
	})

	t.Run("interior hub qualifies", func(t *testing.T) {
		assert.Contains(t, ids, "MID")
	})

	t.Run("hub outside the hull is rejected", func(t *testing.T) {
		assert.NotContains(t, ids, "FAR")
	})
}

func TestCandidatesCollinearStarts(t *testing.T) {
	// Three starts on a straight line have no hull area; the filter falls
	// back to an ellipse between the extremes
	starts := []*models.Hub{
		hubAt("W", 51.50, -0.20),
		hubAt("M", 51.50, -0.10),
		hubAt("E", 51.50, 0.00),
	}
	near := hubAt("NEAR", 51.505, -0.10)

	all := append(append([]*models.Hub{}, starts...), near)
	got := newFilter().Candidates(starts, all)
	ids := hubIDs(got)

	for _, s := range starts {
		assert.Contains(t, ids, s.ID)
	}
	assert.Contains(t, ids, "NEAR")
}

func TestCandidatesCoverage(t *testing.T) {
	// Four clustered starts plus one far outlier: the coverage circle
	// keeps the cluster and excludes candidates near the outlier only
	starts := []*models.Hub{
		hubAt("S1", 51.50, -0.10),
		hubAt("S2", 51.51, -0.11),
		hubAt("S3", 51.52, -0.12),
		hubAt("S4", 51.50, -0.09),
		hubAt("OUT", 51.80, -0.40),
	}
	nearOutlier := hubAt("NO", 51.79, -0.39)

	all := append(append([]*models.Hub{}, starts...), nearOutlier)
	got := newFilter().Candidates(starts, all)
	ids := hubIDs(got)

	t.Run("start hubs survive even outside the coverage circle", func(t *testing.T) {
		assert.Contains(t, ids, "OUT")
	})

	t.Run("non-start hub near the outlier is cut by the coverage circle", func(t *testing.T) {
		require.NotEmpty(t, got)
		assert.NotContains(t, ids, "NO")
	})
}

func hubIDs(hubs []*models.Hub) []string {
	ids := make([]string, len(hubs))
	for i, h := range hubs {
		ids[i] = h.ID
	}
	return ids
}
