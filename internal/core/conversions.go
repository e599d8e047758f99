package core

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"training-backend/internal/core/types"
	"training-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ActivityFacts converts a stored activity into the read model used by the
// metrics engine.
func ActivityFacts(a database.Activity) (types.ActivityFacts, error) {
	sport, err := types.ParseSport(a.Sport)
	if err != nil {
		return types.ActivityFacts{}, err
	}

	facts := types.ActivityFacts{
		Id:         a.Id,
		StartTime:  ActivityStartTime(a),
		Sport:      sport,
		Statistics: make(map[types.ActivityStatistic]float64),
	}

	for name, v := range a.Statistics.Data() {
		stat, err := types.ParseActivityStatistic(name)
		if err != nil {
			continue
		}
		facts.Statistics[stat] = v
	}

	if a.WorkoutType.Valid {
		w, err := types.ParseWorkoutType(a.WorkoutType.String)
		if err != nil {
			return types.ActivityFacts{}, err
		}
		facts.WorkoutType = &w
	}
	if a.Rpe.Valid {
		r, err := types.ParseRpe(int(a.Rpe.Int16))
		if err != nil {
			return types.ActivityFacts{}, err
		}
		facts.Rpe = &r
	}
	if a.BonkStatus.Valid {
		b, err := types.ParseBonkStatus(a.BonkStatus.String)
		if err != nil {
			return types.ActivityFacts{}, err
		}
		facts.BonkStatus = &b
	}

	return facts, nil
}

// ActivityStartTime restores the offset the activity was recorded in.
func ActivityStartTime(a database.Activity) time.Time {
	if a.UtcOffsetSeconds == 0 {
		return a.StartTime.UTC()
	}
	return a.StartTime.In(time.FixedZone("", a.UtcOffsetSeconds))
}

func derivedFromRow(row database.ActivityDerivedValue) types.DerivedValue {
	switch {
	case !row.Computed:
		return types.DerivedValue{State: types.Uncomputed}
	case row.Value.Valid:
		return types.DerivedValue{State: types.ComputedValue, Value: row.Value.Float64}
	default:
		return types.DerivedValue{State: types.ComputedEmpty}
	}
}

func metricToRow(m types.TrainingMetric) (database.TrainingMetric, error) {
	filters, err := json.Marshal(m.Definition.Filters)
	if err != nil {
		return database.TrainingMetric{}, fmt.Errorf("error encoding metric filters: %w", err)
	}

	row := database.TrainingMetric{
		Id:           m.Id,
		UserId:       m.UserId,
		Granularity:  string(m.Definition.Granularity),
		Aggregate:    string(m.Definition.Aggregate),
		Filters:      datatypes.JSON(filters),
		CreationTime: m.CreationTime,
	}

	if m.Name != nil {
		row.Name = sql.NullString{String: *m.Name, Valid: true}
	}
	if m.Definition.GroupBy != nil {
		row.GroupBy = sql.NullString{String: string(*m.Definition.GroupBy), Valid: true}
	}

	switch source := m.Definition.Source.(type) {
	case types.StatisticSource:
		row.SourceType = database.SourceStatistic
		row.SourceStatistic = sql.NullString{String: string(source.Statistic), Valid: true}
	case types.TimeseriesSource:
		row.SourceType = database.SourceTimeseries
		row.SourceMetric = sql.NullString{String: string(source.Metric), Valid: true}
		row.SourceAggregate = sql.NullString{String: string(source.Aggregate), Valid: true}
	default:
		return database.TrainingMetric{}, fmt.Errorf("unknown metric source %T", m.Definition.Source)
	}

	if scope, ok := m.Scope.(types.PeriodScope); ok {
		row.PeriodId = uuid.NullUUID{UUID: scope.PeriodId, Valid: true}
	}

	return row, nil
}

func metricFromRow(row database.TrainingMetric) (types.TrainingMetric, error) {
	m := types.TrainingMetric{
		Id:           row.Id,
		UserId:       row.UserId,
		Scope:        types.GlobalScope{},
		CreationTime: row.CreationTime,
	}

	if row.Name.Valid {
		name := row.Name.String
		m.Name = &name
	}
	if row.PeriodId.Valid {
		m.Scope = types.PeriodScope{PeriodId: row.PeriodId.UUID}
	}

	var err error
	switch row.SourceType {
	case database.SourceStatistic:
		var stat types.ActivityStatistic
		if stat, err = types.ParseActivityStatistic(row.SourceStatistic.String); err != nil {
			return m, err
		}
		m.Definition.Source = types.StatisticSource{Statistic: stat}
	case database.SourceTimeseries:
		var source types.TimeseriesSource
		if source.Metric, err = types.ParseTimeseriesMetric(row.SourceMetric.String); err != nil {
			return m, err
		}
		if source.Aggregate, err = types.ParseTimeseriesAggregate(row.SourceAggregate.String); err != nil {
			return m, err
		}
		m.Definition.Source = source
	default:
		return m, fmt.Errorf("invalid metric source type '%s'", row.SourceType)
	}

	if m.Definition.Granularity, err = types.ParseGranularity(row.Granularity); err != nil {
		return m, err
	}
	if m.Definition.Aggregate, err = types.ParseAggregate(row.Aggregate); err != nil {
		return m, err
	}
	if row.GroupBy.Valid {
		groupBy, err := types.ParseGroupBy(row.GroupBy.String)
		if err != nil {
			return m, err
		}
		m.Definition.GroupBy = &groupBy
	}
	if len(row.Filters) > 0 {
		if err := json.Unmarshal(row.Filters, &m.Definition.Filters); err != nil {
			return m, fmt.Errorf("error decoding metric filters: %w", err)
		}
	}

	return m, nil
}

func periodFromRow(row database.TrainingPeriod) (types.TrainingPeriod, error) {
	period := types.TrainingPeriod{
		Id:    row.Id,
		Name:  row.Name,
		Start: row.Start,
		Note:  row.Note.String,
	}
	if row.End.Valid {
		end := row.End.Time
		period.End = &end
	}
	if len(row.Sports) > 0 && string(row.Sports) != "null" {
		if err := json.Unmarshal(row.Sports, &period.Sports); err != nil {
			return period, fmt.Errorf("error decoding period sports: %w", err)
		}
	}
	return period, nil
}
