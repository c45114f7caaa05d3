package facematch

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facepay/internal/constants"
	"github.com/kozaktomas/facepay/internal/database"
)

// DefaultTolerance is the distance difference under which two candidates are
// treated as equidistant.
const DefaultTolerance = 1e-9

// MatcherOptions configures a Matcher.
type MatcherOptions struct {
	Metric    string  // database.MetricCosine (default) or database.MetricEuclidean
	Threshold float64 // maximum distance for a positive match
	Dim       int     // required dimensionality; 0 means fixed by the first vector
	Tolerance float64 // tie tolerance, DefaultTolerance when zero

	// IndexMinSize enables the HNSW prefilter once the gallery holds at least
	// this many reference embeddings. Zero keeps every lookup an exact scan.
	// With the prefilter only the returned candidates are scored, so the
	// minimum distance and the first-enrolled tie-break are approximate: an
	// equidistant identity missed by the graph search is not considered.
	IndexMinSize int
	// IndexCandidates is the number of nearest references taken from the prefilter.
	IndexCandidates int

	Now func() time.Time
}

// snapshot is an immutable view of the gallery. identities is ordered by
// enrollment time, oldest first, and is never modified after publication.
type snapshot struct {
	identities []database.EnrolledIdentity
	positions  map[string]int
	dim        int
	embeddings int
	index      *database.HNSWIndex
}

// Matcher is the in-memory embedding cache. Lookups read the current snapshot
// without locking; mutations build a new snapshot under mu and swap it in.
type Matcher struct {
	opts     MatcherOptions
	distance func(a, b []float32) float64

	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

// NewMatcher creates an empty matcher.
func NewMatcher(opts MatcherOptions) (*Matcher, error) {
	opts.Metric = strings.ToLower(opts.Metric)
	if opts.Metric == "" {
		opts.Metric = database.MetricCosine
	}
	distance, err := database.DistanceFunc(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.Threshold <= 0 {
		return nil, fmt.Errorf("match threshold must be positive, got %f", opts.Threshold)
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.IndexCandidates <= 0 {
		opts.IndexCandidates = constants.DefaultIndexCandidates
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Matcher{opts: opts, distance: distance}
	m.current.Store(&snapshot{positions: map[string]int{}, dim: opts.Dim})
	return m, nil
}

// Metric returns the configured distance metric.
func (m *Matcher) Metric() string { return m.opts.Metric }

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.opts.Threshold }

// Match finds the enrolled identity closest to embedding. The distance of an
// identity is the minimum over its reference embeddings. Ties within the
// tolerance go to the identity enrolled first.
func (m *Matcher) Match(embedding []float32) (MatchResult, error) {
	s := m.current.Load()
	if len(s.identities) == 0 {
		return MatchResult{}, nil
	}
	if len(embedding) != s.dim {
		return MatchResult{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim)
	}

	candidates := m.candidates(s, embedding)

	best := -1
	bestDist := math.Inf(1)
	for _, pos := range candidates {
		d := m.identityDistance(&s.identities[pos], embedding)
		if d < bestDist-m.opts.Tolerance {
			best, bestDist = pos, d
		}
	}
	if best < 0 {
		return MatchResult{}, nil
	}

	result := MatchResult{
		UserID:     s.identities[best].UserID,
		Distance:   bestDist,
		Confidence: confidence(bestDist),
	}
	if bestDist <= m.opts.Threshold {
		result.Matched = true
		return result, nil
	}
	// Closest candidate is reported for diagnostics only.
	result.UserID = ""
	return result, nil
}

// candidates returns identity positions to score, in enrollment order.
func (m *Matcher) candidates(s *snapshot, embedding []float32) []int {
	if s.index != nil {
		positions := s.index.Search(embedding, m.opts.IndexCandidates)
		if len(positions) > 0 {
			sort.Ints(positions)
			return positions
		}
	}
	positions := make([]int, len(s.identities))
	for i := range positions {
		positions[i] = i
	}
	return positions
}

func (m *Matcher) identityDistance(identity *database.EnrolledIdentity, embedding []float32) float64 {
	best := math.Inf(1)
	for _, ref := range identity.Embeddings {
		if d := m.distance(embedding, ref); d < best {
			best = d
		}
	}
	return best
}

// confidence maps a distance in [0, 2] to [0, 1].
func confidence(distance float64) float64 {
	c := 1 - distance/2
	return math.Max(0, math.Min(1, c))
}

// Insert adds a reference embedding for userID, enrolling the identity when it
// is not yet known. A non-empty name replaces the stored display name.
func (m *Matcher) Insert(userID, name string, embedding []float32) error {
	if userID == "" || len(embedding) == 0 || database.Norm(embedding) == 0 {
		return ErrInvalidIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()
	dim := old.dim
	if dim == 0 {
		dim = len(embedding)
	}
	if len(embedding) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), dim)
	}

	identities := slices.Clone(old.identities)
	vec := slices.Clone(embedding)
	if pos, ok := old.positions[userID]; ok {
		updated := identities[pos]
		updated.Embeddings = append(slices.Clip(updated.Embeddings), vec)
		if name != "" {
			updated.Name = name
		}
		identities[pos] = updated
	} else {
		identities = append(identities, database.EnrolledIdentity{
			UserID:     userID,
			Name:       name,
			Embeddings: [][]float32{vec},
			EnrolledAt: m.opts.Now(),
		})
		sort.SliceStable(identities, func(i, j int) bool {
			return identities[i].EnrolledAt.Before(identities[j].EnrolledAt)
		})
	}

	m.current.Store(m.buildSnapshot(identities, dim))
	return nil
}

// Load atomically replaces the whole gallery. Identities are copied; on a
// dimension mismatch nothing is replaced.
func (m *Matcher) Load(identities []database.EnrolledIdentity) error {
	dim := m.opts.Dim
	copied := make([]database.EnrolledIdentity, 0, len(identities))
	seen := make(map[string]int, len(identities))
	for _, identity := range identities {
		if identity.UserID == "" {
			return ErrInvalidIdentity
		}
		embeddings := make([][]float32, 0, len(identity.Embeddings))
		for _, emb := range identity.Embeddings {
			if dim == 0 {
				dim = len(emb)
			}
			if len(emb) != dim {
				return fmt.Errorf("%w: identity %s has %d, want %d", ErrDimensionMismatch, identity.UserID, len(emb), dim)
			}
			embeddings = append(embeddings, slices.Clone(emb))
		}
		// Repeated user ids are merged into the first occurrence.
		if pos, ok := seen[identity.UserID]; ok {
			copied[pos].Embeddings = append(copied[pos].Embeddings, embeddings...)
			if identity.EnrolledAt.Before(copied[pos].EnrolledAt) {
				copied[pos].EnrolledAt = identity.EnrolledAt
			}
			continue
		}
		identity.Embeddings = embeddings
		seen[identity.UserID] = len(copied)
		copied = append(copied, identity)
	}
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].EnrolledAt.Before(copied[j].EnrolledAt)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Store(m.buildSnapshot(copied, dim))
	return nil
}

// Clear atomically removes every enrolled identity.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Store(&snapshot{positions: map[string]int{}, dim: m.opts.Dim})
}

// Dim returns the gallery dimensionality, 0 while it is still unknown.
func (m *Matcher) Dim() int {
	return m.current.Load().dim
}

// Count returns the number of enrolled identities.
func (m *Matcher) Count() int {
	return len(m.current.Load().identities)
}

// EmbeddingCount returns the number of reference embeddings across all identities.
func (m *Matcher) EmbeddingCount() int {
	return m.current.Load().embeddings
}

// Indexed reports whether lookups currently go through the HNSW prefilter.
func (m *Matcher) Indexed() bool {
	return m.current.Load().index != nil
}

// Identities lists the gallery in enrollment order.
func (m *Matcher) Identities() []IdentitySummary {
	s := m.current.Load()
	out := make([]IdentitySummary, len(s.identities))
	for i, identity := range s.identities {
		out[i] = IdentitySummary{
			UserID:     identity.UserID,
			Name:       identity.Name,
			Embeddings: len(identity.Embeddings),
			EnrolledAt: identity.EnrolledAt,
		}
	}
	return out
}

// buildSnapshot must be called with mu held.
func (m *Matcher) buildSnapshot(identities []database.EnrolledIdentity, dim int) *snapshot {
	s := &snapshot{
		identities: identities,
		positions:  make(map[string]int, len(identities)),
		dim:        dim,
	}
	for i, identity := range identities {
		s.positions[identity.UserID] = i
		s.embeddings += len(identity.Embeddings)
	}
	if len(identities) == 0 && m.opts.Dim == 0 {
		s.dim = 0
	}
	if m.opts.IndexMinSize > 0 && s.embeddings >= m.opts.IndexMinSize {
		s.index = database.NewHNSWIndex(identities, m.opts.Metric)
	}
	return s
}
