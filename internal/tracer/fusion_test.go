package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse_ZeroSequenceConfidenceDegradesToBKT(t *testing.T) {
	bkt := Estimate{Mastery: 0.731238947, Confidence: 0.35}
	seq := Estimate{Mastery: 0.99, Confidence: 0}

	fused := Fuse(bkt, seq)

	assert.Equal(t, bkt.Mastery, fused.Mastery, "degraded path must reproduce the Bayesian posterior exactly")
	assert.Equal(t, bkt.Confidence, fused.Confidence)
}

func TestFuse_FullSequenceConfidenceTakesSequence(t *testing.T) {
	bkt := Estimate{Mastery: 0.2, Confidence: 0.5}
	seq := Estimate{Mastery: 0.8, Confidence: 1}

	fused := Fuse(bkt, seq)

	assert.Equal(t, seq.Mastery, fused.Mastery)
	assert.Equal(t, 1.0, fused.Confidence)
}

func TestFuse_BlendsLinearly(t *testing.T) {
	bkt := Estimate{Mastery: 0.4, Confidence: 0.3}
	seq := Estimate{Mastery: 0.8, Confidence: 0.5}

	fused := Fuse(bkt, seq)

	assert.InDelta(t, 0.5*0.8+0.5*0.4, fused.Mastery, 1e-12)
	assert.Equal(t, 0.5, fused.Confidence, "confidence is the max of the two")
}

func TestFuse_Deterministic(t *testing.T) {
	bkt := Estimate{Mastery: 0.37, Confidence: 0.6}
	seq := Estimate{Mastery: 0.52, Confidence: 0.45}

	assert.Equal(t, Fuse(bkt, seq), Fuse(bkt, seq))
}

func TestFuse_OutputStaysInUnitInterval(t *testing.T) {
	for _, b := range []float64{0, 0.5, 1} {
		for _, s := range []float64{0, 0.5, 1} {
			for _, conf := range []float64{0, 0.25, 1} {
				fused := Fuse(Estimate{Mastery: b, Confidence: conf}, Estimate{Mastery: s, Confidence: conf})
				assert.GreaterOrEqual(t, fused.Mastery, 0.0)
				assert.LessOrEqual(t, fused.Mastery, 1.0)
			}
		}
	}
}
