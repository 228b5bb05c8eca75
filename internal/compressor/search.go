package compressor

import (
	"math"

	"github.com/sirupsen/logrus"
)

// qualityResolution is the narrowest bracket worth bisecting further.
const qualityResolution = 0.03

// searchQuality bisects the quality bracket at fixed dimensions, looking
// for the highest quality whose output fits the target.
//
// It assumes encoded size grows monotonically with quality for the codec
// in use. When no attempt fits, it encodes once at the bracket floor and
// returns that result for the caller to escalate. A failed encode narrows
// the bracket downward like an oversized one.
func (r *run) searchQuality(width, height int) (*candidate, error) {
	cv := r.canvasFor(width, height)
	target := r.opts.TargetBytes()
	tolerance := target * r.opts.QualityTolerance

	lo, hi := r.opts.MinQuality, r.opts.MaxQuality
	var best *candidate

	for i := 0; hi-lo > qualityResolution && i < r.opts.MaxIterations; i++ {
		q := (lo + hi) / 2
		c, err := r.encode(cv, q)
		if err != nil {
			// A failed encode counts as over target.
			r.log.WithError(err).WithFields(logrus.Fields{
				"iteration": i + 1,
				"quality":   round2(q),
			}).Warn("Quality probe failed")
			hi = q
			continue
		}

		size := float64(len(c.data))
		r.log.WithFields(logrus.Fields{
			"iteration": i + 1,
			"quality":   round2(q),
			"size_kb":   round2(c.sizeKB()),
			"width":     width,
			"height":    height,
		}).Debug("Quality probe")

		if math.Abs(size-target) <= tolerance {
			return c, nil
		}
		if size <= target {
			best = c
			lo = q
		} else {
			hi = q
		}
	}

	if best != nil {
		return best, nil
	}
	return r.encode(cv, lo)
}
