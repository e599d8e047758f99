package metrics

import (
	"math"
	"time"

	"training-backend/internal/core/types"

	"github.com/google/uuid"
)

const (
	NoGroup    = "no_group"
	OtherGroup = "Other"
)

// Series maps a bucket label to its value. Labels are ISO dates, so their
// lexical order is chronological.
type Series map[string]float64

type GroupedSeries map[string]Series

// ResolveValues returns the per-activity value of the source in display units.
// Activities without a value are absent from the result.
func ResolveValues(source types.MetricSource, activities []types.ActivityFacts, derived map[uuid.UUID]types.DerivedValue) map[uuid.UUID]float64 {
	values := make(map[uuid.UUID]float64, len(activities))
	for _, a := range activities {
		var (
			v  float64
			ok bool
		)
		switch s := source.(type) {
		case types.StatisticSource:
			v, ok = a.Statistics[s.Statistic]
		case types.TimeseriesSource:
			v, ok = derived[a.Id].Get()
		}
		if ok && !math.IsNaN(v) {
			values[a.Id] = source.Convert(v)
		}
	}
	return values
}

type accumulator struct {
	activities int
	samples    int
	sum        float64
	min        float64
	max        float64
}

func (acc *accumulator) add(v float64) {
	if acc.samples == 0 {
		acc.min, acc.max = v, v
	} else {
		acc.min = math.Min(acc.min, v)
		acc.max = math.Max(acc.max, v)
	}
	acc.samples++
	acc.sum += v
}

func (acc *accumulator) value(agg types.Aggregate) (float64, bool) {
	if agg == types.AggregateNumberOfActivities {
		return float64(acc.activities), acc.activities > 0
	}
	if acc.samples == 0 {
		return 0, false
	}
	switch agg {
	case types.AggregateSum:
		return acc.sum, true
	case types.AggregateAverage:
		return acc.sum / float64(acc.samples), true
	case types.AggregateMin:
		return acc.min, true
	case types.AggregateMax:
		return acc.max, true
	}
	return 0, false
}

func groupKey(groupBy *types.GroupBy, a types.ActivityFacts) string {
	if groupBy == nil {
		return NoGroup
	}

	switch *groupBy {
	case types.GroupBySport:
		return string(a.Sport)
	case types.GroupBySportCategory:
		if cat := a.Sport.Category(); cat != nil {
			return string(*cat)
		}
	case types.GroupByWorkoutType:
		if a.WorkoutType != nil {
			return string(*a.WorkoutType)
		}
	case types.GroupByRpeRange:
		if a.Rpe != nil {
			return string(a.Rpe.Range())
		}
	case types.GroupByBonked:
		if a.BonkStatus != nil {
			return string(*a.BonkStatus)
		}
	}
	return OtherGroup
}

// Evaluate filters, buckets, groups and aggregates the activities whose local
// start date falls in [start, end]. values holds the resolved per-activity values; an
// activity missing from it still counts for NumberOfActivities.
func Evaluate(def types.MetricDefinition, start, end time.Time, activities []types.ActivityFacts, values map[uuid.UUID]float64) GroupedSeries {
	cells := make(map[string]map[string]*accumulator)

	for _, a := range activities {
		if !InRange(start, end, a.StartTime) {
			continue
		}
		if !def.Filters.Matches(a) {
			continue
		}

		group := groupKey(def.GroupBy, a)
		bucket := BucketLabel(def.Granularity, a.StartTime)

		if cells[group] == nil {
			cells[group] = make(map[string]*accumulator)
		}
		acc := cells[group][bucket]
		if acc == nil {
			acc = &accumulator{}
			cells[group][bucket] = acc
		}

		acc.activities++
		if v, ok := values[a.Id]; ok {
			acc.add(v)
		}
	}

	result := make(GroupedSeries, len(cells))
	for group, buckets := range cells {
		series := make(Series, len(buckets))
		for bucket, acc := range buckets {
			if v, ok := acc.value(def.Aggregate); ok {
				series[bucket] = v
			}
		}
		if len(series) > 0 || def.Aggregate.ZeroFills() {
			result[group] = series
		}
	}

	if def.Aggregate.ZeroFills() {
		if len(result) == 0 && def.GroupBy == nil {
			result[NoGroup] = make(Series)
		}
		labels := BucketLabels(def.Granularity, start, end)
		for _, series := range result {
			for _, label := range labels {
				if _, ok := series[label]; !ok {
					series[label] = 0
				}
			}
		}
	}

	return result
}
