package api

import (
	"time"

	"github.com/google/uuid"
)

// MetricSource is {"Statistic": "Calories"} or {"Timeseries": ["HeartRate", "Average"]}.
type MetricSource struct {
	Statistic  *string  `json:"Statistic,omitempty"`
	Timeseries []string `json:"Timeseries,omitempty"`
}

// SportFilter is {"Sport": "Running"} or {"SportCategory": "Cycling"}.
type SportFilter struct {
	Sport         *string `json:"Sport,omitempty"`
	SportCategory *string `json:"SportCategory,omitempty"`
}

// MetricFilters leaves a dimension unconstrained when it is absent. An empty
// list is rejected.
type MetricFilters struct {
	Sports       []SportFilter `json:"sports,omitempty"`
	WorkoutTypes []string      `json:"workout_types,omitempty"`
	Rpes         []int         `json:"rpes,omitempty"`
	Bonked       *string       `json:"bonked,omitempty"`
}

const (
	ScopeGlobal         = "global"
	ScopeTrainingPeriod = "trainingPeriod"
)

type MetricScope struct {
	Type             string     `json:"type"`
	TrainingPeriodId *uuid.UUID `json:"trainingPeriodId,omitempty"`
}

type CreateMetricRequest struct {
	Name        *string       `json:"name"`
	Source      MetricSource  `json:"source"`
	Granularity string        `json:"granularity"`
	Aggregate   string        `json:"aggregate"`
	Filters     MetricFilters `json:"filters"`
	GroupBy     *string       `json:"group_by"`
	Scope       *MetricScope  `json:"scope"`
}

type CreateMetricResponse struct {
	Id uuid.UUID `json:"id"`
}

// MetricValues maps a group to its series of bucket label to value.
type MetricValues map[string]map[string]float64

type Metric struct {
	Id          uuid.UUID    `json:"id"`
	Name        *string      `json:"name"`
	Metric      string       `json:"metric"`
	Unit        string       `json:"unit"`
	Granularity string       `json:"granularity"`
	Aggregate   string       `json:"aggregate"`
	Sports      []string     `json:"sports"`
	GroupBy     *string      `json:"group_by"`
	Scope       MetricScope  `json:"scope"`
	Values      MetricValues `json:"values"`
}

type MetricsQuery struct {
	Start            string `schema:"start"`
	End              string `schema:"end"`
	TrainingPeriodId string `schema:"trainingPeriodId"`
}

// ComputeValuesRequest dates are YYYY-MM-DD or RFC 3339.
type ComputeValuesRequest struct {
	Source      MetricSource  `json:"source"`
	Granularity string        `json:"granularity"`
	Aggregate   string        `json:"aggregate"`
	Filters     MetricFilters `json:"filters"`
	GroupBy     *string       `json:"group_by"`
	Start       string        `json:"start"`
	End         *string       `json:"end"`
}

type ComputeValuesResponse struct {
	Values MetricValues `json:"values"`
}

type UpdateMetricRequest struct {
	Name  *string      `json:"name"`
	Scope *MetricScope `json:"scope"`
}

type OrderingQuery struct {
	Type             string `schema:"type"`
	TrainingPeriodId string `schema:"trainingPeriodId"`
}

type MetricOrdering struct {
	MetricIds []uuid.UUID `json:"metric_ids"`
}

type SetOrderingRequest struct {
	Type             string      `json:"type"`
	TrainingPeriodId *uuid.UUID  `json:"trainingPeriodId"`
	MetricIds        []uuid.UUID `json:"metric_ids"`
}

type UploadActivitiesResponse struct {
	CreatedIds []uuid.UUID `json:"created_ids"`
	// Pairs of filename and reason.
	UnprocessableFiles [][2]string `json:"unprocessable_files"`
}

type Activity struct {
	Id          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	StartTime   time.Time          `json:"start_time"`
	Sport       string             `json:"sport"`
	Statistics  map[string]float64 `json:"statistics"`
	WorkoutType *string            `json:"workout_type"`
	Rpe         *int               `json:"rpe"`
	BonkStatus  *string            `json:"bonk_status"`
}

// UpdateActivityRequest is a partial update: absent fields are left as they
// are and an explicit null clears rpe, workout_type or bonk_status.
type UpdateActivityRequest struct {
	Name        *string          `json:"name"`
	Rpe         Nullable[int]    `json:"rpe"`
	WorkoutType Nullable[string] `json:"workout_type"`
	BonkStatus  Nullable[string] `json:"bonk_status"`
}

type TrainingPeriod struct {
	Id     uuid.UUID     `json:"id"`
	Name   string        `json:"name"`
	Start  string        `json:"start"`
	End    *string       `json:"end"`
	Sports []SportFilter `json:"sports"`
	Note   *string       `json:"note"`
}

// TrainingPeriodDetails is a period with the activities it contains.
type TrainingPeriodDetails struct {
	TrainingPeriod
	Activities []PeriodActivity `json:"activities"`
}

type PeriodActivity struct {
	Id            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Sport         string    `json:"sport"`
	SportCategory *string   `json:"sport_category"`
	StartTime     time.Time `json:"start_time"`
	Duration      *float64  `json:"duration"`
	Distance      *float64  `json:"distance"`
	Elevation     *float64  `json:"elevation"`
}

// CreatePeriodRequest dates are YYYY-MM-DD.
type CreatePeriodRequest struct {
	Name   string        `json:"name"`
	Start  string        `json:"start"`
	End    *string       `json:"end"`
	Sports []SportFilter `json:"sports"`
	Note   *string       `json:"note"`
}

type CreatePeriodResponse struct {
	Id uuid.UUID `json:"id"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Id uuid.UUID `json:"id"`
}
