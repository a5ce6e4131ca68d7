package tracer

import "github.com/skillforge/mastery-engine/internal/domain/shared"

// Fuse blends the Bayesian and sequence estimates into the committed
// mastery value:
//
//	mastery    = seqConf*seq + (1-seqConf)*bkt
//	confidence = max(seqConf, bktConf)
//
// The function is pure and deterministic, so replaying a log through
// it reproduces the live path exactly. A sequence confidence of 0
// degrades to the Bayesian estimate verbatim, which is what the
// pipeline leans on when inference times out.
func Fuse(bkt, seq Estimate) Estimate {
	weight := shared.ClampUnit(seq.Confidence)
	mastery := weight*seq.Mastery + (1-weight)*bkt.Mastery

	confidence := bkt.Confidence
	if seq.Confidence > confidence {
		confidence = seq.Confidence
	}

	return Estimate{
		Mastery:    shared.ClampUnit(mastery),
		Confidence: shared.ClampUnit(confidence),
	}
}
