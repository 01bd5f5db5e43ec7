package metrics

import (
	"fmt"

	"netflow-console/internal/model"
)

const (
	// DefaultMinStep is the smallest query resolution, in seconds
	DefaultMinStep int64 = 15
	// DefaultTargetDatapoints is the number of points aimed at per series
	DefaultTargetDatapoints int64 = 100

	// a "latest" value older than this many steps before the range end is stale
	latestToleranceSteps = 5
	// rate() windows span this many steps so that each window holds several samples
	rateIntervalSteps = 4
)

// StepPolicy derives the query step from the queried range
type StepPolicy struct {
	MinStepSeconds   int64 `yaml:"min_step_seconds"`
	TargetDatapoints int64 `yaml:"target_datapoints"`
}

// DefaultStepPolicy returns a 15s minimum step targeting 100 points
func DefaultStepPolicy() StepPolicy {
	return StepPolicy{
		MinStepSeconds:   DefaultMinStep,
		TargetDatapoints: DefaultTargetDatapoints,
	}
}

// StepFor returns max(min step, range / target datapoints)
func (p StepPolicy) StepFor(rangeSeconds int64) int64 {
	minStep := p.MinStepSeconds
	if minStep <= 0 {
		minStep = DefaultMinStep
	}
	target := p.TargetDatapoints
	if target <= 0 {
		target = DefaultTargetDatapoints
	}

	step := rangeSeconds / target
	if step < minStep {
		return minStep
	}
	return step
}

// RateInterval returns the rate() window used for a step, in seconds
func RateInterval(step int64) int64 {
	return rateIntervalSteps * step
}

// LatestTolerance returns how far before the range end the last point may lie
// and still be reported as the latest value
func LatestTolerance(step int64) int64 {
	return latestToleranceSteps * step
}

// Validate rejects ranges and steps no statistic can be computed for
func Validate(rng model.TimeRange, step int64) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	if step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %d", model.ErrInvalidRange, step)
	}
	return nil
}
