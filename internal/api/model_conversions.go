package api

import (
	"fmt"
	"net/http"
	"time"

	"training-backend/internal/core"
	"training-backend/internal/core/metrics"
	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/pkg/api"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

func badRequest(err error) error {
	return CodedError(http.StatusBadRequest, err)
}

func parseSource(s api.MetricSource) (types.MetricSource, error) {
	switch {
	case s.Statistic != nil && s.Timeseries == nil:
		stat, err := types.ParseActivityStatistic(*s.Statistic)
		if err != nil {
			return nil, badRequest(err)
		}
		return types.StatisticSource{Statistic: stat}, nil

	case s.Timeseries != nil && s.Statistic == nil:
		if len(s.Timeseries) != 2 {
			return nil, CodedErrorf(http.StatusBadRequest, "timeseries source must be [metric, aggregate]")
		}
		metric, err := types.ParseTimeseriesMetric(s.Timeseries[0])
		if err != nil {
			return nil, badRequest(err)
		}
		aggregate, err := types.ParseTimeseriesAggregate(s.Timeseries[1])
		if err != nil {
			return nil, badRequest(err)
		}
		return types.TimeseriesSource{Metric: metric, Aggregate: aggregate}, nil
	}
	return nil, CodedErrorf(http.StatusBadRequest, "source must be either Statistic or Timeseries")
}

func convertSource(s types.MetricSource) api.MetricSource {
	switch s := s.(type) {
	case types.StatisticSource:
		stat := string(s.Statistic)
		return api.MetricSource{Statistic: &stat}
	case types.TimeseriesSource:
		return api.MetricSource{Timeseries: []string{string(s.Metric), string(s.Aggregate)}}
	}
	return api.MetricSource{}
}

func parseSportFilters(filters []api.SportFilter) ([]types.SportFilter, error) {
	if filters == nil {
		return nil, nil
	}
	sports := make([]types.SportFilter, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Sport != nil && f.SportCategory == nil:
			sport, err := types.ParseSport(*f.Sport)
			if err != nil {
				return nil, badRequest(err)
			}
			sports = append(sports, types.SportFilter{Sport: &sport})
		case f.SportCategory != nil && f.Sport == nil:
			cat, err := types.ParseSportCategory(*f.SportCategory)
			if err != nil {
				return nil, badRequest(err)
			}
			sports = append(sports, types.SportFilter{Category: &cat})
		default:
			return nil, CodedErrorf(http.StatusBadRequest, "sport filter must be either Sport or SportCategory")
		}
	}
	return sports, nil
}

func convertSportFilters(filters []types.SportFilter) []api.SportFilter {
	if filters == nil {
		return nil
	}
	out := make([]api.SportFilter, 0, len(filters))
	for _, f := range filters {
		if f.Sport != nil {
			s := string(*f.Sport)
			out = append(out, api.SportFilter{Sport: &s})
		} else if f.Category != nil {
			c := string(*f.Category)
			out = append(out, api.SportFilter{SportCategory: &c})
		}
	}
	return out
}

func parseFilters(f api.MetricFilters) (types.Filters, error) {
	var (
		filters types.Filters
		err     error
	)

	if filters.Sports, err = parseSportFilters(f.Sports); err != nil {
		return filters, err
	}

	if f.WorkoutTypes != nil {
		filters.WorkoutTypes = make([]types.WorkoutType, 0, len(f.WorkoutTypes))
		for _, w := range f.WorkoutTypes {
			workout, err := types.ParseWorkoutType(w)
			if err != nil {
				return filters, badRequest(err)
			}
			filters.WorkoutTypes = append(filters.WorkoutTypes, workout)
		}
	}

	if f.Rpes != nil {
		filters.Rpes = make([]types.Rpe, 0, len(f.Rpes))
		for _, r := range f.Rpes {
			rpe, err := types.ParseRpe(r)
			if err != nil {
				return filters, badRequest(err)
			}
			filters.Rpes = append(filters.Rpes, rpe)
		}
	}

	if f.Bonked != nil {
		bonk, err := types.ParseBonkStatus(*f.Bonked)
		if err != nil {
			return filters, badRequest(err)
		}
		filters.Bonked = &bonk
	}

	return filters, nil
}

func parseDefinition(source api.MetricSource, granularity, aggregate string, filters api.MetricFilters, groupBy *string) (types.MetricDefinition, error) {
	var (
		def types.MetricDefinition
		err error
	)

	if def.Source, err = parseSource(source); err != nil {
		return def, err
	}
	if def.Granularity, err = types.ParseGranularity(granularity); err != nil {
		return def, badRequest(err)
	}
	if def.Aggregate, err = types.ParseAggregate(aggregate); err != nil {
		return def, badRequest(err)
	}
	if def.Filters, err = parseFilters(filters); err != nil {
		return def, err
	}
	if groupBy != nil {
		g, err := types.ParseGroupBy(*groupBy)
		if err != nil {
			return def, badRequest(err)
		}
		def.GroupBy = &g
	}

	if err := def.Validate(); err != nil {
		return def, badRequest(err)
	}
	return def, nil
}

func parseScope(s *api.MetricScope) (types.MetricScope, error) {
	if s == nil {
		return types.GlobalScope{}, nil
	}
	switch s.Type {
	case api.ScopeGlobal:
		return types.GlobalScope{}, nil
	case api.ScopeTrainingPeriod:
		if s.TrainingPeriodId == nil {
			return nil, CodedErrorf(http.StatusBadRequest, "trainingPeriodId is required for scope trainingPeriod")
		}
		return types.PeriodScope{PeriodId: *s.TrainingPeriodId}, nil
	}
	return nil, CodedErrorf(http.StatusBadRequest, "invalid scope type '%s'", s.Type)
}

func convertScope(s types.MetricScope) api.MetricScope {
	if p, ok := s.(types.PeriodScope); ok {
		return api.MetricScope{Type: api.ScopeTrainingPeriod, TrainingPeriodId: &p.PeriodId}
	}
	return api.MetricScope{Type: api.ScopeGlobal}
}

func convertValues(values metrics.GroupedSeries) api.MetricValues {
	out := make(api.MetricValues, len(values))
	for group, series := range values {
		out[group] = series
	}
	return out
}

func convertMetric(m core.MetricWithValues) api.Metric {
	def := m.Metric.Definition

	var groupBy *string
	if def.GroupBy != nil {
		g := string(*def.GroupBy)
		groupBy = &g
	}

	return api.Metric{
		Id:          m.Metric.Id,
		Name:        m.Metric.Name,
		Metric:      def.Source.Label(),
		Unit:        def.Unit(),
		Granularity: string(def.Granularity),
		Aggregate:   string(def.Aggregate),
		Sports:      def.Sports(),
		GroupBy:     groupBy,
		Scope:       convertScope(m.Metric.Scope),
		Values:      convertValues(m.Values),
	}
}

func convertMetrics(ms []core.MetricWithValues) []api.Metric {
	out := make([]api.Metric, 0, len(ms))
	for _, m := range ms {
		out = append(out, convertMetric(m))
	}
	return out
}

func convertActivity(a database.Activity) api.Activity {
	activity := api.Activity{
		Id:         a.Id,
		Name:       a.Name,
		StartTime:  core.ActivityStartTime(a),
		Sport:      a.Sport,
		Statistics: a.Statistics.Data(),
	}
	if activity.Statistics == nil {
		activity.Statistics = map[string]float64{}
	}
	if a.WorkoutType.Valid {
		activity.WorkoutType = &a.WorkoutType.String
	}
	if a.Rpe.Valid {
		rpe := int(a.Rpe.Int16)
		activity.Rpe = &rpe
	}
	if a.BonkStatus.Valid {
		activity.BonkStatus = &a.BonkStatus.String
	}
	return activity
}

func convertActivities(as []database.Activity) []api.Activity {
	out := make([]api.Activity, 0, len(as))
	for _, a := range as {
		out = append(out, convertActivity(a))
	}
	return out
}

func convertPeriod(p types.TrainingPeriod) api.TrainingPeriod {
	period := api.TrainingPeriod{
		Id:     p.Id,
		Name:   p.Name,
		Start:  p.Start.Format(dateLayout),
		Sports: convertSportFilters(p.Sports),
	}
	if p.End != nil {
		end := p.End.Format(dateLayout)
		period.End = &end
	}
	if p.Note != "" {
		period.Note = &p.Note
	}
	return period
}

func convertPeriodActivity(a database.Activity) api.PeriodActivity {
	activity := api.PeriodActivity{
		Id:        a.Id,
		Name:      a.Name,
		Sport:     a.Sport,
		StartTime: core.ActivityStartTime(a),
	}
	if cat := types.Sport(a.Sport).Category(); cat != nil {
		category := string(*cat)
		activity.SportCategory = &category
	}

	stats := a.Statistics.Data()
	statistic := func(stat types.ActivityStatistic) *float64 {
		if v, ok := stats[string(stat)]; ok {
			return &v
		}
		return nil
	}
	activity.Duration = statistic(types.StatisticDuration)
	activity.Distance = statistic(types.StatisticDistance)
	activity.Elevation = statistic(types.StatisticElevation)

	return activity
}

func convertPeriodDetails(p types.TrainingPeriod, activities []database.Activity) api.TrainingPeriodDetails {
	details := api.TrainingPeriodDetails{
		TrainingPeriod: convertPeriod(p),
		Activities:     make([]api.PeriodActivity, 0, len(activities)),
	}
	for _, a := range activities {
		details.Activities = append(details.Activities, convertPeriodActivity(a))
	}
	return details
}

func convertPeriods(ps []types.TrainingPeriod) []api.TrainingPeriod {
	out := make([]api.TrainingPeriod, 0, len(ps))
	for _, p := range ps {
		out = append(out, convertPeriod(p))
	}
	return out
}

// parseTime accepts a date or an RFC 3339 timestamp.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s': expected YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// parseRange reads the query range. A missing end means now.
func parseRange(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, CodedErrorf(http.StatusBadRequest, "start is required")
	}
	s, err := parseTime(start)
	if err != nil {
		return time.Time{}, time.Time{}, badRequest(err)
	}
	e := time.Now().UTC()
	if end != "" {
		if e, err = parseTime(end); err != nil {
			return time.Time{}, time.Time{}, badRequest(err)
		}
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, CodedErrorf(http.StatusBadRequest, "end is before start")
	}
	return s, e, nil
}

// nullableField returns the value of a partial update field and whether it
// was explicitly set to null.
func nullableField[T any](n api.Nullable[T]) (*T, bool) {
	return n.Value, n.Set && n.Value == nil
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid uuid '%s': %v", s, err)
	}
	return &id, nil
}
