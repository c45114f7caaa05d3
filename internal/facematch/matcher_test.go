package facematch

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facepay/internal/database"
)

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// fakeClock returns strictly increasing timestamps so enrollment order is deterministic.
func fakeClock() func() time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestMatcher(t *testing.T, metric string, threshold float64) *Matcher {
	t.Helper()
	m, err := NewMatcher(MatcherOptions{Metric: metric, Threshold: threshold, Now: fakeClock()})
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	return m
}

func TestNewMatcher_InvalidOptions(t *testing.T) {
	if _, err := NewMatcher(MatcherOptions{Metric: "manhattan", Threshold: 0.5}); err == nil {
		t.Error("expected error for unknown metric")
	}
	if _, err := NewMatcher(MatcherOptions{Threshold: 0}); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestMatch_ExactEmbeddingMatchesWithZeroDistance(t *testing.T) {
	for _, metric := range []string{database.MetricCosine, database.MetricEuclidean} {
		t.Run(metric, func(t *testing.T) {
			m := newTestMatcher(t, metric, 0.6)
			ref := []float32{0.3, 0.4, 0.5, 0.1}
			if err := m.Insert("u1", "", ref); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			result, err := m.Match(ref)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if !result.Matched || result.UserID != "u1" {
				t.Fatalf("expected match for u1, got %+v", result)
			}
			if result.Distance > 1e-6 {
				t.Errorf("expected distance 0, got %f", result.Distance)
			}
			if result.Confidence < 0.999 {
				t.Errorf("expected confidence ~1, got %f", result.Confidence)
			}
		})
	}
}

func TestMatch_ScenarioNearUnitVector(t *testing.T) {
	m := newTestMatcher(t, database.MetricEuclidean, 0.6)
	if err := m.Insert("u1", "", unitVector(8, 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	query := make([]float32, 8)
	query[0], query[1] = 0.99, 0.01

	result, err := m.Match(query)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !result.Matched || result.UserID != "u1" {
		t.Fatalf("expected match for u1, got %+v", result)
	}
	if result.Distance > 0.6 {
		t.Errorf("expected distance within threshold, got %f", result.Distance)
	}
}

func TestMatch_BeyondThresholdIsNoMatch(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)
	if err := m.Insert("u1", "", unitVector(4, 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Insert("u2", "", unitVector(4, 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := m.Match(unitVector(4, 2))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.Matched {
		t.Fatalf("expected no match, got %+v", result)
	}
	if result.UserID != "" {
		t.Errorf("no-match result must not carry a user id, got %q", result.UserID)
	}
	if math.Abs(result.Distance-1) > 1e-9 {
		t.Errorf("expected closest distance 1, got %f", result.Distance)
	}
}

func TestMatch_EmptyGallery(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)
	result, err := m.Match([]float32{1, 0})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.Matched {
		t.Error("expected no match on empty gallery")
	}
}

func TestMatch_AfterClearIsNoMatch(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)
	ref := unitVector(4, 0)
	if err := m.Insert("u1", "", ref); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	m.Clear()

	result, err := m.Match(ref)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.Matched {
		t.Fatalf("expected no match after clear, got %+v", result)
	}
	if m.Count() != 0 || m.EmbeddingCount() != 0 {
		t.Errorf("expected empty gallery, got %d identities / %d embeddings", m.Count(), m.EmbeddingCount())
	}

	// Dimensionality is re-learned after a clear.
	if err := m.Insert("u2", "", unitVector(6, 0)); err != nil {
		t.Errorf("expected insert with new dimension after clear, got %v", err)
	}
}

func TestMatch_TieGoesToFirstEnrolled(t *testing.T) {
	m := newTestMatcher(t, database.MetricEuclidean, 2)
	// Both references are at distance 1 from the query.
	if err := m.Insert("first", "", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Insert("second", "", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		result, err := m.Match([]float32{0, 0, 0.0000001})
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if result.UserID != "first" {
			t.Fatalf("expected earliest enrolled identity to win tie, got %q", result.UserID)
		}
	}
}

func TestMatch_TieUsesEnrollmentTimeNotLoadOrder(t *testing.T) {
	m := newTestMatcher(t, database.MetricEuclidean, 2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := m.Load([]database.EnrolledIdentity{
		{UserID: "late", Embeddings: [][]float32{{0, 1, 0}}, EnrolledAt: base.Add(time.Hour)},
		{UserID: "early", Embeddings: [][]float32{{1, 0, 0}}, EnrolledAt: base},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	result, err := m.Match([]float32{0, 0, 1})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.UserID != "early" {
		t.Errorf("expected identity enrolled first, got %q", result.UserID)
	}
}

func TestMatch_MinimumOverReferenceEmbeddings(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.1)
	if err := m.Insert("u1", "", unitVector(3, 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Insert("u1", "Alice", unitVector(3, 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := m.Match(unitVector(3, 1))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !result.Matched || result.UserID != "u1" {
		t.Fatalf("expected match via second reference, got %+v", result)
	}

	ids := m.Identities()
	if len(ids) != 1 || ids[0].Embeddings != 2 || ids[0].Name != "Alice" {
		t.Errorf("unexpected identities: %+v", ids)
	}
}

func TestInsert_Validation(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)

	if err := m.Insert("", "", []float32{1}); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity for empty id, got %v", err)
	}
	if err := m.Insert("u1", "", []float32{0, 0}); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity for zero vector, got %v", err)
	}
	if err := m.Insert("u1", "", []float32{1, 0}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Insert("u2", "", []float32{1, 0, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := m.Match([]float32{1, 0, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch from Match, got %v", err)
	}
}

func TestInsert_DoesNotAliasCallerSlice(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.1)
	ref := []float32{1, 0}
	if err := m.Insert("u1", "", ref); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	ref[0], ref[1] = 0, 1

	result, _ := m.Match([]float32{1, 0})
	if !result.Matched {
		t.Error("mutating the caller's slice must not change the gallery")
	}
}

func TestLoad_MergesAndRejectsMismatch(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)
	base := time.Now()

	err := m.Load([]database.EnrolledIdentity{
		{UserID: "u1", Embeddings: [][]float32{{1, 0}}, EnrolledAt: base},
		{UserID: "u1", Embeddings: [][]float32{{0, 1}}, EnrolledAt: base.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Count() != 1 || m.EmbeddingCount() != 2 {
		t.Fatalf("expected merged identity, got %d identities / %d embeddings", m.Count(), m.EmbeddingCount())
	}

	err = m.Load([]database.EnrolledIdentity{
		{UserID: "a", Embeddings: [][]float32{{1, 0}}},
		{UserID: "b", Embeddings: [][]float32{{1, 0, 0}}},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("failed load must leave the previous gallery in place, got %d identities", m.Count())
	}
}

func TestMatch_HNSWPrefilterAgreesWithExactScan(t *testing.T) {
	exact := newTestMatcher(t, database.MetricCosine, 0.3)
	indexed, err := NewMatcher(MatcherOptions{
		Metric:          database.MetricCosine,
		Threshold:       0.3,
		IndexMinSize:    4,
		IndexCandidates: 8,
		Now:             fakeClock(),
	})
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		ref := unitVector(8, i)
		if err := exact.Insert(string(rune('a'+i)), "", ref); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if err := indexed.Insert(string(rune('a'+i)), "", ref); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if !indexed.Indexed() {
		t.Fatal("expected HNSW prefilter to be active")
	}
	if exact.Indexed() {
		t.Fatal("expected exact matcher to stay unindexed")
	}

	query := unitVector(8, 5)
	query[0] = 0.1
	want, _ := exact.Match(query)
	got, err := indexed.Match(query)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got.UserID != want.UserID || got.Matched != want.Matched {
		t.Errorf("indexed result %+v differs from exact %+v", got, want)
	}
}

func TestMatch_LargeGalleryStaysExactByDefault(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 1.5)
	if err := m.Insert("early", "", unitVector(4, 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	for i := range 150 {
		if err := m.Insert(fmt.Sprintf("far-%d", i), "", []float32{-1, 0, 0, 0}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := m.Insert("late", "", unitVector(4, 2)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if m.Indexed() {
		t.Fatal("prefilter must stay off unless IndexMinSize is set")
	}

	got, err := m.Match(unitVector(4, 0))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !got.Matched || got.UserID != "early" {
		t.Errorf("expected the first enrolled of two equidistant identities, got %+v", got)
	}
}

func TestMatcher_ConcurrentLookupsDuringMutation(t *testing.T) {
	m := newTestMatcher(t, database.MetricCosine, 0.4)
	ref := unitVector(16, 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				result, err := m.Match(ref)
				if err != nil {
					t.Errorf("Match failed: %v", err)
					return
				}
				if result.Matched && result.UserID != "u1" {
					t.Errorf("unexpected identity %q", result.UserID)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if err := m.Insert("u1", "", ref); err != nil {
			t.Errorf("Insert failed: %v", err)
		}
		m.Clear()
	}
	close(stop)
	wg.Wait()
}
