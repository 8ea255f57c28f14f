// Package settle scores completed rides. Points reward drop precision: the
// base award shrinks by one point per ten meters of error between the agreed
// drop location and where the ride actually ended.
package settle

import (
	"fmt"

	"aeras-dispatch/internal/fusion"
	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/types"
)

const (
	ReasonOK           = "OK"
	ReasonPoorAccuracy = "GPS accuracy poor"
	ReasonFarFromDrop  = "Drop location far from expected"
)

// Result is the outcome of settling one ride. When NeedsReview is set the
// award is withheld and Points is zero; an operator backend decides later.
type Result struct {
	Points        float64
	DistanceError float64
	GPSAccuracy   float64
	NeedsReview   bool
	Reason        string
}

// Engine settles rides against fixed policy parameters.
type Engine struct {
	log *logger.Logger

	basePoints        float64
	distanceDivisor   float64
	minPoints         float64
	accuracyThreshold float64
	reviewRadius      float64
}

func NewEngine(basePoints, distanceDivisor, accuracyThreshold, reviewRadius float64, log *logger.Logger) *Engine {
	return &Engine{
		log:               log,
		basePoints:        basePoints,
		distanceDivisor:   distanceDivisor,
		accuracyThreshold: accuracyThreshold,
		reviewRadius:      reviewRadius,
	}
}

// Estimate projects the award for an offered ride from the operator's current
// position, before any travel happens. Shown on the offer screen only; the
// final award comes from Finalize.
func (e *Engine) Estimate(current, pickup types.Coordinate) float64 {
	return e.formula(fusion.Distance(current, pickup))
}

// Finalize settles a ride at drop-off. Accuracy is judged before distance:
// a fix worse than the accuracy threshold forces review regardless of where
// the unit stands, then a drop error beyond the review radius forces review,
// and only then does the distance formula award points.
func (e *Engine) Finalize(expectedDrop, actualDrop types.Coordinate, gpsAccuracy float64) Result {
	r := Result{
		DistanceError: fusion.Distance(expectedDrop, actualDrop),
		GPSAccuracy:   gpsAccuracy,
		Reason:        ReasonOK,
	}
	e.log.Debugf("settling: drop error %.2fm, accuracy %.2fm", r.DistanceError, gpsAccuracy)

	if gpsAccuracy > e.accuracyThreshold {
		r.NeedsReview = true
		r.Reason = ReasonPoorAccuracy
		return r
	}
	if r.DistanceError > e.reviewRadius {
		r.NeedsReview = true
		r.Reason = ReasonFarFromDrop
		return r
	}

	r.Points = e.formula(r.DistanceError)
	e.log.Infof("ride settled: %.2f points (%.2fm error)", r.Points, r.DistanceError)
	return r
}

// Breakdown renders a result for the operator display and audit log.
func (e *Engine) Breakdown(r Result) string {
	status := "APPROVED"
	if r.NeedsReview {
		status = fmt.Sprintf("PENDING REVIEW (%s)", r.Reason)
	}
	return fmt.Sprintf("Points: %.2f\nDistance error: %.1f m\nGPS accuracy: %.1f m\nStatus: %s",
		r.Points, r.DistanceError, r.GPSAccuracy, status)
}

// formula is the single award computation shared by Estimate and Finalize:
// max(minPoints, base - distance/divisor).
func (e *Engine) formula(distanceMeters float64) float64 {
	points := e.basePoints - distanceMeters/e.distanceDivisor
	if points < e.minPoints {
		points = e.minPoints
	}
	return points
}
