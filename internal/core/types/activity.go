package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Sport string

const (
	SportRunning           Sport = "Running"
	SportTrailRunning      Sport = "TrailRunning"
	SportTrackRunning      Sport = "TrackRunning"
	SportIndoorRunning     Sport = "IndoorRunning"
	SportCycling           Sport = "Cycling"
	SportMountainBiking    Sport = "MountainBiking"
	SportGravelCycling     Sport = "GravelCycling"
	SportIndoorCycling     Sport = "IndoorCycling"
	SportSwimming          Sport = "Swimming"
	SportOpenWaterSwimming Sport = "OpenWaterSwimming"
	SportWalking           Sport = "Walking"
	SportHiking            Sport = "Hiking"
	SportRowing            Sport = "Rowing"
	SportIndoorRowing      Sport = "IndoorRowing"
	SportCrossCountrySki   Sport = "CrossCountrySkiing"
	SportAlpineSki         Sport = "AlpineSkiing"
	SportStrengthTraining  Sport = "StrengthTraining"
	SportCardioTraining    Sport = "CardioTraining"
	SportGolf              Sport = "Golf"
	SportOther             Sport = "Other"
)

type SportCategory string

const (
	CategoryRunning  SportCategory = "Running"
	CategoryCycling  SportCategory = "Cycling"
	CategorySwimming SportCategory = "Swimming"
	CategoryWalking  SportCategory = "Walking"
	CategoryRowing   SportCategory = "Rowing"
	CategorySkiing   SportCategory = "Skiing"
	CategoryTraining SportCategory = "Training"
)

var sportCategories = map[Sport]SportCategory{
	SportRunning:           CategoryRunning,
	SportTrailRunning:      CategoryRunning,
	SportTrackRunning:      CategoryRunning,
	SportIndoorRunning:     CategoryRunning,
	SportCycling:           CategoryCycling,
	SportMountainBiking:    CategoryCycling,
	SportGravelCycling:     CategoryCycling,
	SportIndoorCycling:     CategoryCycling,
	SportSwimming:          CategorySwimming,
	SportOpenWaterSwimming: CategorySwimming,
	SportWalking:           CategoryWalking,
	SportHiking:            CategoryWalking,
	SportRowing:            CategoryRowing,
	SportIndoorRowing:      CategoryRowing,
	SportCrossCountrySki:   CategorySkiing,
	SportAlpineSki:         CategorySkiing,
	SportStrengthTraining:  CategoryTraining,
	SportCardioTraining:    CategoryTraining,
	SportGolf:              "",
	SportOther:             "",
}

// Category returns the category of the sport, or nil for sports that don't
// belong to any (Golf, Other).
func (s Sport) Category() *SportCategory {
	cat, ok := sportCategories[s]
	if !ok || cat == "" {
		return nil
	}
	return &cat
}

func ParseSport(s string) (Sport, error) {
	if _, ok := sportCategories[Sport(s)]; !ok {
		return "", fmt.Errorf("invalid sport '%s'", s)
	}
	return Sport(s), nil
}

func ParseSportCategory(s string) (SportCategory, error) {
	for _, cat := range sportCategories {
		if cat != "" && string(cat) == s {
			return cat, nil
		}
	}
	return "", fmt.Errorf("invalid sport category '%s'", s)
}

type WorkoutType string

const (
	WorkoutEasy      WorkoutType = "easy"
	WorkoutTempo     WorkoutType = "tempo"
	WorkoutIntervals WorkoutType = "intervals"
	WorkoutLongRun   WorkoutType = "long_run"
	WorkoutRace      WorkoutType = "race"
)

func ParseWorkoutType(s string) (WorkoutType, error) {
	switch w := WorkoutType(s); w {
	case WorkoutEasy, WorkoutTempo, WorkoutIntervals, WorkoutLongRun, WorkoutRace:
		return w, nil
	}
	return "", fmt.Errorf("invalid workout type '%s'", s)
}

type BonkStatus string

const (
	BonkNone   BonkStatus = "none"
	BonkBonked BonkStatus = "bonked"
)

func ParseBonkStatus(s string) (BonkStatus, error) {
	switch b := BonkStatus(s); b {
	case BonkNone, BonkBonked:
		return b, nil
	}
	return "", fmt.Errorf("invalid bonk status '%s'", s)
}

// Rpe is a rate of perceived exertion between 1 and 10.
type Rpe int

func ParseRpe(v int) (Rpe, error) {
	if v < 1 || v > 10 {
		return 0, fmt.Errorf("invalid rpe %d: must be between 1 and 10", v)
	}
	return Rpe(v), nil
}

type RpeRange string

const (
	RpeEasy     RpeRange = "easy"
	RpeModerate RpeRange = "moderate"
	RpeHard     RpeRange = "hard"
	RpeVeryHard RpeRange = "very_hard"
	RpeMaximum  RpeRange = "maximum"
)

func (r Rpe) Range() RpeRange {
	switch {
	case r <= 3:
		return RpeEasy
	case r <= 6:
		return RpeModerate
	case r <= 8:
		return RpeHard
	case r == 9:
		return RpeVeryHard
	default:
		return RpeMaximum
	}
}

type ActivityStatistic string

const (
	StatisticCalories        ActivityStatistic = "Calories"
	StatisticElevation       ActivityStatistic = "Elevation"
	StatisticDistance        ActivityStatistic = "Distance"
	StatisticDuration        ActivityStatistic = "Duration"
	StatisticNormalizedPower ActivityStatistic = "NormalizedPower"
)

func ParseActivityStatistic(s string) (ActivityStatistic, error) {
	switch st := ActivityStatistic(s); st {
	case StatisticCalories, StatisticElevation, StatisticDistance, StatisticDuration, StatisticNormalizedPower:
		return st, nil
	}
	return "", fmt.Errorf("invalid statistic '%s'", s)
}

// MaxUtcOffset bounds the local offset an activity start time may carry.
const MaxUtcOffset = 14 * time.Hour

// ActivityFacts is the read model of an archived activity consumed by the
// metrics engine. StartTime carries the activity's own UTC offset so that
// calendar bucketing happens in the athlete's local date.
type ActivityFacts struct {
	Id          uuid.UUID
	StartTime   time.Time
	Sport       Sport
	WorkoutType *WorkoutType
	Rpe         *Rpe
	BonkStatus  *BonkStatus
	Statistics  map[ActivityStatistic]float64
}

type TrainingPeriod struct {
	Id     uuid.UUID
	Name   string
	Start  time.Time
	End    *time.Time
	Sports []SportFilter
	Note   string
}

// Contains reports whether the activity falls in the period's dates and
// matches its sport filter. End is inclusive of the whole day.
func (p TrainingPeriod) Contains(a ActivityFacts) bool {
	day := startOfDay(a.StartTime)
	if day.Before(startOfDay(p.Start)) {
		return false
	}
	if p.End != nil && day.After(startOfDay(*p.End)) {
		return false
	}
	return MatchesSports(p.Sports, a.Sport)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
