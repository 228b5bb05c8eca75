package compressor

import "github.com/sirupsen/logrus"

// ladderFloor is the smallest width or height an escalation step may use.
const ladderFloor = 150

// escalate shrinks the original dimensions step by step until an encode
// fits the target. Steps that are not smaller than the primary working
// size are skipped; the ladder stops before any axis drops below
// ladderFloor.
//
// When every step misses, a final encode at the smallest tried size and
// the fallback quality is returned as is, even if it is still over target.
func (r *run) escalate(primaryWidth, primaryHeight int) (*candidate, error) {
	target := r.opts.TargetBytes()
	lastWidth, lastHeight := primaryWidth, primaryHeight

	for _, factor := range r.opts.EscalationSteps {
		width, height := scaledDimensions(r.src.Width, r.src.Height, factor)
		if width < ladderFloor || height < ladderFloor {
			break
		}
		if width*height >= primaryWidth*primaryHeight {
			continue
		}
		lastWidth, lastHeight = width, height

		stepLog := r.log.WithFields(logrus.Fields{
			"scale":  factor,
			"width":  width,
			"height": height,
			"mode":   r.opts.Escalation.String(),
		})

		c, err := r.step(width, height)
		if err != nil {
			stepLog.WithError(err).Warn("Escalation step failed, trying next")
			continue
		}
		if float64(len(c.data)) <= target {
			stepLog.WithField("size_kb", round2(c.sizeKB())).Debug("Escalation step met target")
			return c, nil
		}
		stepLog.WithField("size_kb", round2(c.sizeKB())).Debug("Escalation step still over target")
	}

	q := r.opts.fallbackQuality()
	r.log.WithFields(logrus.Fields{
		"width":   lastWidth,
		"height":  lastHeight,
		"quality": q,
	}).Info("Escalation ladder exhausted, encoding last resort")

	return r.encode(r.canvasFor(lastWidth, lastHeight), q)
}

func (r *run) step(width, height int) (*candidate, error) {
	if r.opts.Escalation == EscalateProbe {
		return r.encode(r.canvasFor(width, height), r.opts.fallbackQuality())
	}
	return r.searchQuality(width, height)
}
