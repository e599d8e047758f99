package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MetricSource is either a StatisticSource or a TimeseriesSource.
type MetricSource interface {
	isMetricSource()

	// Unit of the per-activity values once converted for display.
	Unit() string

	// Label is the human readable name of the source, e.g. "Average HeartRate".
	Label() string

	// Convert maps a raw per-activity value to the display unit.
	Convert(v float64) float64
}

type StatisticSource struct {
	Statistic ActivityStatistic
}

func (StatisticSource) isMetricSource() {}

func (s StatisticSource) Label() string {
	return string(s.Statistic)
}

func (s StatisticSource) Unit() string {
	switch s.Statistic {
	case StatisticCalories:
		return "kcal"
	case StatisticElevation:
		return "m"
	case StatisticDistance:
		return "km"
	case StatisticDuration:
		return "s"
	case StatisticNormalizedPower:
		return "W"
	}
	return ""
}

func (s StatisticSource) Convert(v float64) float64 {
	if s.Statistic == StatisticDistance {
		return v / 1000
	}
	return v
}

type TimeseriesSource struct {
	Metric    TimeseriesMetric
	Aggregate TimeseriesAggregate
}

func (TimeseriesSource) isMetricSource() {}

func (s TimeseriesSource) Key() DerivedMetricKey {
	return DerivedMetricKey{Metric: s.Metric, Aggregate: s.Aggregate}
}

func (s TimeseriesSource) Label() string {
	return string(s.Aggregate) + " " + string(s.Metric)
}

func (s TimeseriesSource) Unit() string {
	switch s.Metric {
	case MetricHeartRate:
		return "bpm"
	case MetricPower:
		return "W"
	case MetricSpeed:
		return "km/h"
	case MetricAltitude:
		return "m"
	case MetricCadence:
		return "rpm"
	case MetricPace:
		return "s/km"
	}
	return ""
}

func (s TimeseriesSource) Convert(v float64) float64 {
	switch s.Metric {
	case MetricSpeed:
		return v * 3.6
	case MetricPace:
		return v * 1000
	}
	return v
}

// MetricScope is either GlobalScope or PeriodScope.
type MetricScope interface {
	isMetricScope()
}

type GlobalScope struct{}

func (GlobalScope) isMetricScope() {}

type PeriodScope struct {
	PeriodId uuid.UUID
}

func (PeriodScope) isMetricScope() {}

// ScopeKey is the storage key of a scope, used for per-scope orderings.
func ScopeKey(scope MetricScope) string {
	if p, ok := scope.(PeriodScope); ok {
		return "period:" + p.PeriodId.String()
	}
	return "global"
}

type Granularity string

const (
	Daily   Granularity = "Daily"
	Weekly  Granularity = "Weekly"
	Monthly Granularity = "Monthly"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Daily, Weekly, Monthly:
		return g, nil
	}
	return "", fmt.Errorf("invalid granularity '%s'", s)
}

type Aggregate string

const (
	AggregateMin                Aggregate = "Min"
	AggregateMax                Aggregate = "Max"
	AggregateAverage            Aggregate = "Average"
	AggregateSum                Aggregate = "Sum"
	AggregateNumberOfActivities Aggregate = "NumberOfActivities"
)

func ParseAggregate(s string) (Aggregate, error) {
	switch a := Aggregate(s); a {
	case AggregateMin, AggregateMax, AggregateAverage, AggregateSum, AggregateNumberOfActivities:
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate '%s'", s)
}

// ZeroFills reports whether empty buckets are emitted as 0 for the aggregate.
func (a Aggregate) ZeroFills() bool {
	return a == AggregateSum || a == AggregateNumberOfActivities
}

type GroupBy string

const (
	GroupBySport         GroupBy = "Sport"
	GroupBySportCategory GroupBy = "SportCategory"
	GroupByWorkoutType   GroupBy = "WorkoutType"
	GroupByRpeRange      GroupBy = "RpeRange"
	GroupByBonked        GroupBy = "Bonked"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(s); g {
	case GroupBySport, GroupBySportCategory, GroupByWorkoutType, GroupByRpeRange, GroupByBonked:
		return g, nil
	}
	return "", fmt.Errorf("invalid group_by '%s'", s)
}

// SportFilter matches either one sport or every sport of a category.
type SportFilter struct {
	Sport    *Sport         `json:"sport,omitempty"`
	Category *SportCategory `json:"category,omitempty"`
}

func (f SportFilter) Matches(s Sport) bool {
	if f.Sport != nil {
		return *f.Sport == s
	}
	if f.Category != nil {
		cat := s.Category()
		return cat != nil && *cat == *f.Category
	}
	return false
}

// MatchesSports reports whether the sport matches any filter. A nil filter
// list matches everything.
func MatchesSports(filters []SportFilter, s Sport) bool {
	if filters == nil {
		return true
	}
	for _, f := range filters {
		if f.Matches(s) {
			return true
		}
	}
	return false
}

type Filters struct {
	Sports       []SportFilter `json:"sports,omitempty"`
	WorkoutTypes []WorkoutType `json:"workout_types,omitempty"`
	Rpes         []Rpe         `json:"rpes,omitempty"`
	Bonked       *BonkStatus   `json:"bonked,omitempty"`
}

func (f Filters) Matches(a ActivityFacts) bool {
	if !MatchesSports(f.Sports, a.Sport) {
		return false
	}
	if f.WorkoutTypes != nil && (a.WorkoutType == nil || !slices.Contains(f.WorkoutTypes, *a.WorkoutType)) {
		return false
	}
	if f.Rpes != nil && (a.Rpe == nil || !slices.Contains(f.Rpes, *a.Rpe)) {
		return false
	}
	if f.Bonked != nil && (a.BonkStatus == nil || *a.BonkStatus != *f.Bonked) {
		return false
	}
	return true
}

// MetricDefinition is everything needed to compute a metric's values.
type MetricDefinition struct {
	Source      MetricSource
	Granularity Granularity
	Aggregate   Aggregate
	Filters     Filters
	GroupBy     *GroupBy
}

var (
	ErrEmptyFilter       = errors.New("filter sets cannot be empty")
	ErrRedundantGrouping = errors.New("cannot group by a dimension fixed by a filter")
	ErrBlankName         = errors.New("name cannot be blank")
)

func (d MetricDefinition) Validate() error {
	if d.Source == nil {
		return fmt.Errorf("metric source is required")
	}
	if d.Filters.Sports != nil && len(d.Filters.Sports) == 0 {
		return fmt.Errorf("sports: %w", ErrEmptyFilter)
	}
	if d.Filters.WorkoutTypes != nil && len(d.Filters.WorkoutTypes) == 0 {
		return fmt.Errorf("workout_types: %w", ErrEmptyFilter)
	}
	if d.Filters.Rpes != nil && len(d.Filters.Rpes) == 0 {
		return fmt.Errorf("rpes: %w", ErrEmptyFilter)
	}
	for _, f := range d.Filters.Sports {
		if (f.Sport == nil) == (f.Category == nil) {
			return fmt.Errorf("sport filter must set exactly one of sport or category")
		}
	}
	if d.GroupBy != nil && *d.GroupBy == GroupByBonked && d.Filters.Bonked != nil {
		return fmt.Errorf("group_by Bonked: %w", ErrRedundantGrouping)
	}
	return nil
}

// Sports lists the sport filter as display strings, empty when unfiltered.
func (d MetricDefinition) Sports() []string {
	sports := make([]string, 0, len(d.Filters.Sports))
	for _, f := range d.Filters.Sports {
		if f.Sport != nil {
			sports = append(sports, string(*f.Sport))
		} else if f.Category != nil {
			sports = append(sports, string(*f.Category))
		}
	}
	return sports
}

// Unit of the metric's output values.
func (d MetricDefinition) Unit() string {
	if d.Aggregate == AggregateNumberOfActivities {
		return "activities"
	}
	return d.Source.Unit()
}

type TrainingMetric struct {
	Id           uuid.UUID
	UserId       uuid.UUID
	Name         *string
	Definition   MetricDefinition
	Scope        MetricScope
	CreationTime time.Time
}

// ValidateName trims the name and rejects blank names.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrBlankName
	}
	return trimmed, nil
}
