package types

import (
	"fmt"
	"math"
	"time"
)

type TimeseriesMetric string

const (
	MetricHeartRate TimeseriesMetric = "HeartRate"
	MetricPower     TimeseriesMetric = "Power"
	MetricSpeed     TimeseriesMetric = "Speed"
	MetricAltitude  TimeseriesMetric = "Altitude"
	MetricCadence   TimeseriesMetric = "Cadence"
	MetricPace      TimeseriesMetric = "Pace"
)

func ParseTimeseriesMetric(s string) (TimeseriesMetric, error) {
	switch m := TimeseriesMetric(s); m {
	case MetricHeartRate, MetricPower, MetricSpeed, MetricAltitude, MetricCadence, MetricPace:
		return m, nil
	}
	return "", fmt.Errorf("invalid timeseries metric '%s'", s)
}

type TimeseriesAggregate string

const (
	TimeseriesMin             TimeseriesAggregate = "Min"
	TimeseriesMax             TimeseriesAggregate = "Max"
	TimeseriesAverage         TimeseriesAggregate = "Average"
	TimeseriesSum             TimeseriesAggregate = "Sum"
	TimeseriesWeightedAverage TimeseriesAggregate = "WeightedAverage"
)

func ParseTimeseriesAggregate(s string) (TimeseriesAggregate, error) {
	switch a := TimeseriesAggregate(s); a {
	case TimeseriesMin, TimeseriesMax, TimeseriesAverage, TimeseriesSum, TimeseriesWeightedAverage:
		return a, nil
	}
	return "", fmt.Errorf("invalid timeseries aggregate '%s'", s)
}

// Compute reduces the samples of one channel to a single value. Missing
// samples are NaN and are skipped; ok is false when no sample is present.
func (a TimeseriesAggregate) Compute(samples []float64) (value float64, ok bool) {
	var (
		count int
		sum   float64
		quart float64
		lo    = math.Inf(1)
		hi    = math.Inf(-1)
	)
	for _, v := range samples {
		if math.IsNaN(v) {
			continue
		}
		count++
		sum += v
		quart += v * v * v * v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if count == 0 {
		return 0, false
	}

	switch a {
	case TimeseriesMin:
		return lo, true
	case TimeseriesMax:
		return hi, true
	case TimeseriesAverage:
		return sum / float64(count), true
	case TimeseriesSum:
		return sum, true
	case TimeseriesWeightedAverage:
		return math.Pow(quart/float64(count), 0.25), true
	}
	return 0, false
}

// DerivedMetricKey identifies one derived value per activity in the cache.
type DerivedMetricKey struct {
	Metric    TimeseriesMetric
	Aggregate TimeseriesAggregate
}

func (k DerivedMetricKey) String() string {
	return string(k.Metric) + ":" + string(k.Aggregate)
}

type DerivedState int

const (
	Uncomputed DerivedState = iota
	ComputedEmpty
	ComputedValue
)

// DerivedValue is a cache entry. ComputedEmpty means the activity was parsed
// but had no usable sample for the channel (or could not be parsed at all),
// and must not be retried.
type DerivedValue struct {
	State DerivedState
	Value float64
}

func (v DerivedValue) Get() (float64, bool) {
	return v.Value, v.State == ComputedValue
}

type Lap struct {
	Start time.Duration
}

// ActivityTimeseries holds per-sample channels aligned on Time, which is the
// offset of each sample from the activity start. Missing samples are NaN.
type ActivityTimeseries struct {
	Time     []time.Duration
	Channels map[TimeseriesMetric][]float64
	Laps     []Lap
}

func NewActivityTimeseries(n int) *ActivityTimeseries {
	return &ActivityTimeseries{
		Time:     make([]time.Duration, 0, n),
		Channels: make(map[TimeseriesMetric][]float64),
	}
}

// Values returns the samples of a channel. Pace is derived from Speed as
// seconds per meter; a stopped sample has no pace.
func (ts *ActivityTimeseries) Values(metric TimeseriesMetric) []float64 {
	if metric != MetricPace {
		return ts.Channels[metric]
	}

	speed := ts.Channels[MetricSpeed]
	pace := make([]float64, len(speed))
	for i, v := range speed {
		if math.IsNaN(v) || v <= 0 {
			pace[i] = math.NaN()
		} else {
			pace[i] = 1 / v
		}
	}
	return pace
}

// IsCoherent reports whether sample times never go backwards and every
// channel has one sample per timestamp.
func (ts *ActivityTimeseries) IsCoherent() bool {
	for i := 1; i < len(ts.Time); i++ {
		if ts.Time[i] < ts.Time[i-1] {
			return false
		}
	}
	for _, values := range ts.Channels {
		if len(values) != len(ts.Time) {
			return false
		}
	}
	return true
}
