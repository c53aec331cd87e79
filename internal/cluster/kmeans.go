// Package cluster implements seeded K-means and nearest-centroid lookup.
package cluster

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/pable/lineup-matchups/internal/model"
)

// Options controls Fit.
type Options struct {
	K        int
	Seed     uint64
	MaxIter  int     // Lloyd iterations per restart (default 300)
	Restarts int     // independent k-means++ initialisations (default 10)
	Tol      float64 // stop when no centroid moves more than Tol (default 1e-6)
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = 300
	}
	if o.Restarts <= 0 {
		o.Restarts = 10
	}
	if o.Tol <= 0 {
		o.Tol = 1e-6
	}
	return o
}

// Model is a fitted set of centroids.
type Model struct {
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
}

// K returns the number of centroids.
func (m *Model) K() int { return len(m.Centroids) }

// Predict returns the nearest centroid index and the Euclidean distance to it.
// Ties go to the lower index.
func (m *Model) Predict(p []float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, cen := range m.Centroids {
		if d := floats.Distance(p, cen, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

// PredictAll labels every point.
func (m *Model) PredictAll(points [][]float64) []int {
	out := make([]int, len(points))
	for i, p := range points {
		out[i], _ = m.Predict(p)
	}
	return out
}

// Distinct counts the distinct rows in points.
func Distinct(points [][]float64) int {
	seen := make(map[string]struct{}, len(points))
	var b strings.Builder
	for _, p := range points {
		b.Reset()
		for _, v := range p {
			b.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
			b.WriteByte(',')
		}
		seen[b.String()] = struct{}{}
	}
	return len(seen)
}

// Fit runs K-means with k-means++ seeding and keeps the lowest-inertia restart.
// The result is deterministic for a given Seed and input order.
func Fit(points [][]float64, opts Options) (*Model, error) {
	opts = opts.withDefaults()
	if opts.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", opts.K)
	}
	if d := Distinct(points); d < opts.K {
		return nil, &model.InsufficientClusterabilityError{Distinct: d, K: opts.K}
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has dimension %d, want %d", i, len(p), dim)
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var best *Model
	for r := 0; r < opts.Restarts; r++ {
		m := lloyd(points, seedPlusPlus(points, opts.K, rng), opts)
		if best == nil || m.Inertia < best.Inertia {
			best = m
		}
	}
	return best, nil
}

// seedPlusPlus picks K initial centroids with probability proportional to
// squared distance from the nearest already-chosen centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(len(points))]))
	d2 := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		last := centroids[len(centroids)-1]
		for i, p := range points {
			d := floats.Distance(p, last, 2)
			if len(centroids) == 1 || d*d < d2[i] {
				d2[i] = d * d
			}
			total += d2[i]
		}
		if total == 0 {
			// Remaining points coincide with chosen centroids; pick any not yet chosen.
			centroids = append(centroids, clone(points[rng.IntN(len(points))]))
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		for i, w := range d2 {
			target -= w
			if target <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, clone(points[idx]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64, opts Options) *Model {
	k, dim := len(centroids), len(points[0])
	labels := make([]int, len(points))
	m := &Model{Centroids: centroids}

	for it := 1; it <= opts.MaxIter; it++ {
		m.Iterations = it
		for i, p := range points {
			labels[i], _ = m.Predict(p)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}

		prev := append([][]float64(nil), m.Centroids...)
		var reseeded []int
		shift := 0.0
		for c := 0; c < k; c++ {
			var next []float64
			if counts[c] == 0 {
				// Empty cluster: re-seed with the point farthest from its centroid,
				// skipping points another empty cluster already took.
				i := farthest(points, labels, prev, reseeded)
				reseeded = append(reseeded, i)
				next = clone(points[i])
			} else {
				next = sums[c]
				floats.Scale(1/float64(counts[c]), next)
			}
			shift = math.Max(shift, floats.Distance(next, m.Centroids[c], 2))
			m.Centroids[c] = next
		}
		if shift <= opts.Tol {
			break
		}
	}

	m.Inertia = 0
	for _, p := range points {
		_, d := m.Predict(p)
		m.Inertia += d * d
	}
	return m
}

// farthest returns the point farthest from its assigned centroid, ignoring
// the points in skip and any point equal to one of them.
func farthest(points [][]float64, labels []int, centroids [][]float64, skip []int) int {
	idx, best := 0, -1.0
	for i, p := range points {
		if taken(points, p, skip) {
			continue
		}
		if d := floats.Distance(p, centroids[labels[i]], 2); d > best {
			idx, best = i, d
		}
	}
	return idx
}

func taken(points [][]float64, p []float64, skip []int) bool {
	for _, j := range skip {
		if floats.Equal(points[j], p) {
			return true
		}
	}
	return false
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
