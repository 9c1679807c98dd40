// Package dedup removes repeated sentences produced by chunked speech
// recognition, where overlapping audio windows transcribe the same utterance
// twice with small variations.
//
// The [Detector] compares each sentence with the sentences that follow it
// until W survivors have been passed. A pair at or above the similarity
// threshold is a duplicate and duplicates form clusters; each cluster keeps
// its best sentence by [QualityScorer] rating, the earlier one on ties.
// Passes repeat with the new survivors until no cluster grows, so running
// the detector on its own output removes nothing.
package dedup

import (
	"log/slog"

	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/similarity"
)

const (
	// DefaultWindow is the number of following sentences each sentence is
	// compared against.
	DefaultWindow = 5

	// DefaultThreshold is the similarity at or above which two sentences are
	// duplicates.
	DefaultThreshold = 0.85
)

// Decision is the outcome of comparing two sentences.
type Decision int

const (
	// Distinct means the pair stays.
	Distinct Decision = iota

	// Duplicate means one side of the pair was removed.
	Duplicate
)

// String returns a human-readable label for the decision.
func (d Decision) String() string {
	switch d {
	case Distinct:
		return "distinct"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// CandidatePair records one comparison. Left and Right are input positions
// with Left < Right.
type CandidatePair struct {
	Left       int
	Right      int
	Similarity float64
	Decision   Decision
}

// Removal records a dropped sentence. OriginalIndex is its position in the
// input; MatchedIndex is the position of the sentence that replaced it.
type Removal struct {
	OriginalIndex int     `json:"original_index"`
	MatchedIndex  int     `json:"matched_index"`
	Similarity    float64 `json:"similarity"`
}

// Result is the outcome of [Detector.Deduplicate].
type Result struct {
	// Kept holds the surviving units in input order.
	Kept []segment.SentenceUnit

	// Removed lists dropped units in input order. MatchedIndex is the
	// surviving member of the unit's cluster.
	Removed []Removal

	// Pairs lists every comparison made, in evaluation order.
	Pairs []CandidatePair

	// Passes is the number of passes run, including the final one that
	// merged nothing.
	Passes int

	// Guarded is true when the removal guard tripped and the input was
	// returned untouched.
	Guarded bool
}

// Option configures a [Detector].
type Option func(*Detector)

// WithWindow sets the look-ahead window. Values below 1 are ignored.
func WithWindow(w int) Option {
	return func(d *Detector) {
		if w >= 1 {
			d.window = w
		}
	}
}

// WithThreshold sets the duplicate threshold. Values outside (0, 1] are
// ignored.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// WithProfile applies the window and threshold of p.
func WithProfile(p Profile) Option {
	return func(d *Detector) {
		WithWindow(p.Window)(d)
		WithThreshold(p.Threshold)(d)
	}
}

// WithScorer replaces the similarity scorer.
func WithScorer(s similarity.Scorer) Option {
	return func(d *Detector) {
		if s != nil {
			d.scorer = s
		}
	}
}

// WithQuality replaces the quality scorer.
func WithQuality(q QualityScorer) Option {
	return func(d *Detector) {
		if q != nil {
			d.quality = q
		}
	}
}

// WithMaxRemovalRatio enables the removal guard: when more than ratio of the
// input would be removed, the detector returns the input unchanged with
// [Result.Guarded] set. Zero disables the guard.
func WithMaxRemovalRatio(ratio float64) Option {
	return func(d *Detector) {
		if ratio >= 0 {
			d.maxRemovalRatio = ratio
		}
	}
}

// Detector finds and removes near-duplicate sentences. It holds no mutable
// state and is safe for concurrent use.
type Detector struct {
	window          int
	threshold       float64
	scorer          similarity.Scorer
	quality         QualityScorer
	maxRemovalRatio float64
}

// NewDetector returns a Detector with the default window, threshold and
// scorers, adjusted by opts.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		scorer:    similarity.Default,
		quality:   Heuristic{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Window returns the configured look-ahead window.
func (d *Detector) Window() int { return d.window }

// Threshold returns the configured duplicate threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Deduplicate removes near-duplicates from units. It never fails; an empty
// input yields an empty result. Indices in the result refer to positions in
// units, not to [segment.SentenceUnit.Index].
//
// Sentences i < j are compared when fewer than W surviving sentences lie
// between them and the similarity reaches the threshold. Duplicate pairs are
// joined into clusters and each cluster keeps its highest-quality member, the
// earliest on ties. A removed sentence stays in its cluster, so its own
// duplicates are removed with it. Clusters only grow between passes, which
// makes a higher threshold never remove more sentences.
func (d *Detector) Deduplicate(units []segment.SentenceUnit) Result {
	n := len(units)
	if n == 0 {
		return Result{Kept: []segment.SentenceUnit{}}
	}

	quality := make([]float64, n)
	for i, u := range units {
		quality[i] = d.quality.Quality(u)
	}

	var res Result
	sims := make(map[[2]int]float64)
	score := func(i, j int) (float64, bool) {
		key := [2]int{i, j}
		if sim, ok := sims[key]; ok {
			return sim, false
		}
		sim := d.scorer.Similarity(units[i], units[j])
		sims[key] = sim
		return sim, true
	}

	clusters := newForest(n)
	survivor := make([]int, n)
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	for {
		res.Passes++
		merged := false

		for i := range n {
			between := 0
			for j := i + 1; j < n && between < d.window; j++ {
				if clusters.find(i) != clusters.find(j) {
					sim, fresh := score(i, j)
					dup := sim >= d.threshold
					if fresh {
						pair := CandidatePair{Left: i, Right: j, Similarity: sim, Decision: Distinct}
						if dup {
							pair.Decision = Duplicate
						}
						res.Pairs = append(res.Pairs, pair)
					}
					if dup {
						clusters.union(i, j)
						merged = true
					}
				}
				if alive[j] {
					between++
				}
			}
		}

		if !merged {
			break
		}
		for i := range survivor {
			survivor[i] = -1
		}
		for i := range n {
			root := clusters.find(i)
			if best := survivor[root]; best < 0 || quality[i] > quality[best] {
				survivor[root] = i
			}
		}
		for i := range n {
			alive[i] = survivor[clusters.find(i)] == i
		}
	}

	for i := range n {
		if alive[i] {
			continue
		}
		s := survivor[clusters.find(i)]
		lo, hi := min(i, s), max(i, s)
		sim, _ := score(lo, hi)
		res.Removed = append(res.Removed, Removal{OriginalIndex: i, MatchedIndex: s, Similarity: sim})
	}

	if d.maxRemovalRatio > 0 && float64(len(res.Removed)) > d.maxRemovalRatio*float64(n) {
		slog.Warn("dedup: removal guard tripped, keeping input unchanged",
			"removed", len(res.Removed),
			"total", n,
			"max_ratio", d.maxRemovalRatio,
		)
		res.Kept = append([]segment.SentenceUnit(nil), units...)
		res.Removed = nil
		res.Guarded = true
		return res
	}

	res.Kept = make([]segment.SentenceUnit, 0, n-len(res.Removed))
	for i, u := range units {
		if alive[i] {
			res.Kept = append(res.Kept, u)
		}
	}
	return res
}

// forest is a union-find over sentence positions.
type forest []int

func newForest(n int) forest {
	f := make(forest, n)
	for i := range f {
		f[i] = i
	}
	return f
}

func (f forest) find(i int) int {
	for f[i] != i {
		f[i] = f[f[i]]
		i = f[i]
	}
	return i
}

func (f forest) union(i, j int) {
	ri, rj := f.find(i), f.find(j)
	if ri == rj {
		return
	}
	if ri > rj {
		ri, rj = rj, ri
	}
	f[rj] = ri
}
