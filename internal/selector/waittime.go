package selector

import (
	"fmt"
	"math"
)

// floorMinutes is the minimum believable per-consultation handle time.
// Statistics below it widen into a range instead of a point estimate.
const floorMinutes = 15.0

// WaitEstimate is the display-only queue message content. None of these
// numbers enter the notification hash.
type WaitEstimate struct {
	Position int
	// Point is set when the operator's statistic is trustworthy.
	Point *int
	// MinMinutes/MaxMinutes bound the estimate otherwise.
	MinMinutes int
	MaxMinutes int
}

// EstimateWait computes the queue position and expected wait for a new
// consultation behind queueCount existing ones. statMinutes is the
// operator's 30-day average handle time; hasStat is false when no
// statistic exists.
func EstimateWait(queueCount int, statMinutes float64, hasStat bool) WaitEstimate {
	est := WaitEstimate{Position: queueCount + 1}

	if hasStat && statMinutes >= floorMinutes {
		p := int(math.Round(float64(queueCount) * statMinutes))
		est.Point = &p
		return est
	}

	if hasStat {
		est.MinMinutes = int(math.Round(float64(queueCount) * statMinutes))
	}
	est.MaxMinutes = int(math.Round(float64(queueCount) * floorMinutes))
	return est
}

// Message renders the user-visible queue text. withETA mirrors the
// SEND_QUEUE_WAIT_TIME_MESSAGE switch: without it only the position is
// reported.
func (w WaitEstimate) Message(withETA bool) string {
	if !withETA || w.Position == 1 {
		return fmt.Sprintf("You are number %d in the queue.", w.Position)
	}
	if w.Point != nil {
		return fmt.Sprintf("You are number %d in the queue. Expected wait: about %d minutes.", w.Position, *w.Point)
	}
	if w.MinMinutes > 0 && w.MinMinutes != w.MaxMinutes {
		return fmt.Sprintf("You are number %d in the queue. Expected wait: %d-%d minutes.", w.Position, w.MinMinutes, w.MaxMinutes)
	}
	return fmt.Sprintf("You are number %d in the queue. Expected wait: up to %d minutes.", w.Position, w.MaxMinutes)
}
