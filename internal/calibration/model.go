// Package calibration periodically refits item difficulty and
// discrimination from the accumulated attempt log, using a
// two-parameter logistic response model. Fits run in the background
// and never touch the mastery update path.
package calibration

// Response is one graded attempt against the item under calibration.
// Ability is the respondent's mastery estimate for the item's skill,
// used as the ability proxy on the shared [0,1] scale.
type Response struct {
	Ability     float64
	Correctness float64
}

// NumBuckets is the number of equal-width ability buckets responses
// are aggregated into before fitting.
const NumBuckets = 10

// Bucket is an aggregated cell of responses with similar ability.
type Bucket struct {
	// Ability is the bucket's center on the mastery scale.
	Ability float64

	// Successes is the sum of correctness over the bucket's
	// responses. Fractional credit contributes fractionally.
	Successes float64

	// Total is the number of responses in the bucket.
	Total int
}

// SuccessRate returns the observed success proportion.
func (b Bucket) SuccessRate() float64 {
	if b.Total == 0 {
		return 0
	}
	return b.Successes / float64(b.Total)
}

// Aggregate groups responses into NumBuckets equal-width ability
// buckets over [0,1]. Empty buckets are dropped.
func Aggregate(responses []Response) []Bucket {
	successes := make([]float64, NumBuckets)
	totals := make([]int, NumBuckets)

	for _, r := range responses {
		idx := int(r.Ability * NumBuckets)
		if idx < 0 {
			idx = 0
		}
		if idx >= NumBuckets {
			idx = NumBuckets - 1
		}
		successes[idx] += r.Correctness
		totals[idx]++
	}

	buckets := make([]Bucket, 0, NumBuckets)
	for i := 0; i < NumBuckets; i++ {
		if totals[i] == 0 {
			continue
		}
		buckets = append(buckets, Bucket{
			Ability:   (float64(i) + 0.5) / NumBuckets,
			Successes: successes[i],
			Total:     totals[i],
		})
	}
	return buckets
}
