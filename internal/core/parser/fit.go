package parser

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"training-backend/internal/core/types"

	"github.com/tormoder/fit"
)

func ParseFit(data []byte) (*ParsedActivity, error) {
	decoded, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	start := fitStartTime(activity)
	if start.IsZero() {
		return nil, ErrNoStartTime
	}

	return &ParsedActivity{
		StartTime:  withOffset(start, fitUtcOffset(activity)),
		Sport:      fitSport(activity),
		Statistics: fitStatistics(activity),
		Timeseries: fitTimeseries(activity, start),
	}, nil
}

func validTime(t time.Time) bool {
	return !t.IsZero() && !fit.IsBaseTime(t)
}

func fitStartTime(activity *fit.ActivityFile) time.Time {
	for _, session := range activity.Sessions {
		if validTime(session.StartTime) {
			return session.StartTime
		}
	}
	for _, rec := range activity.Records {
		if validTime(rec.Timestamp) {
			return rec.Timestamp
		}
	}
	return time.Time{}
}

// The activity message stores both the UTC and the local wall clock time of
// the end of the recording; their difference is the offset.
func fitUtcOffset(activity *fit.ActivityFile) time.Duration {
	msg := activity.Activity
	if msg == nil || !validTime(msg.Timestamp) || !validTime(msg.LocalTimestamp) {
		return 0
	}
	return msg.LocalTimestamp.Sub(msg.Timestamp)
}

func fitSport(activity *fit.ActivityFile) types.Sport {
	if len(activity.Sessions) == 0 {
		return types.SportOther
	}
	session := activity.Sessions[0]
	return sportFromFit(session.Sport, session.SubSport)
}

func sportFromFit(sport fit.Sport, subSport fit.SubSport) types.Sport {
	switch subSport {
	case fit.SubSportTreadmill:
		return types.SportIndoorRunning
	case fit.SubSportTrail:
		if sport == fit.SportRunning {
			return types.SportTrailRunning
		}
	case fit.SubSportTrack:
		if sport == fit.SportRunning {
			return types.SportTrackRunning
		}
	case fit.SubSportIndoorCycling, fit.SubSportSpin:
		return types.SportIndoorCycling
	case fit.SubSportMountain, fit.SubSportDownhill:
		if sport == fit.SportCycling {
			return types.SportMountainBiking
		}
	case fit.SubSportIndoorRowing:
		return types.SportIndoorRowing
	case fit.SubSportOpenWater:
		return types.SportOpenWaterSwimming
	case fit.SubSportStrengthTraining:
		return types.SportStrengthTraining
	case fit.SubSportCardioTraining, fit.SubSportElliptical, fit.SubSportStairClimbing:
		return types.SportCardioTraining
	}

	switch sport {
	case fit.SportRunning:
		return types.SportRunning
	case fit.SportCycling:
		return types.SportCycling
	case fit.SportSwimming:
		return types.SportSwimming
	case fit.SportWalking:
		return types.SportWalking
	case fit.SportHiking:
		return types.SportHiking
	case fit.SportRowing:
		return types.SportRowing
	case fit.SportCrossCountrySkiing:
		return types.SportCrossCountrySki
	case fit.SportAlpineSkiing:
		return types.SportAlpineSki
	case fit.SportTraining, fit.SportFitnessEquipment:
		return types.SportCardioTraining
	case fit.SportGolf:
		return types.SportGolf
	}
	return types.SportOther
}

// Additive statistics are summed over sessions. Normalized power is taken
// from the first session reporting it.
func fitStatistics(activity *fit.ActivityFile) map[types.ActivityStatistic]float64 {
	stats := make(map[types.ActivityStatistic]float64)

	add := func(stat types.ActivityStatistic, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
		stats[stat] += v
	}

	for _, session := range activity.Sessions {
		if session.TotalCalories != math.MaxUint16 {
			add(types.StatisticCalories, float64(session.TotalCalories))
		}
		if session.TotalAscent != math.MaxUint16 {
			add(types.StatisticElevation, float64(session.TotalAscent))
		}
		add(types.StatisticDistance, session.GetTotalDistanceScaled())
		add(types.StatisticDuration, session.GetTotalElapsedTimeScaled())

		if _, ok := stats[types.StatisticNormalizedPower]; !ok && session.NormalizedPower != math.MaxUint16 {
			stats[types.StatisticNormalizedPower] = float64(session.NormalizedPower)
		}
	}

	return stats
}

func fitTimeseries(activity *fit.ActivityFile, start time.Time) *types.ActivityTimeseries {
	ts := types.NewActivityTimeseries(len(activity.Records))

	heartRate := make([]float64, 0, len(activity.Records))
	power := make([]float64, 0, len(activity.Records))
	cadence := make([]float64, 0, len(activity.Records))
	speed := make([]float64, 0, len(activity.Records))
	altitude := make([]float64, 0, len(activity.Records))

	for _, rec := range activity.Records {
		if !validTime(rec.Timestamp) {
			continue
		}
		ts.Time = append(ts.Time, rec.Timestamp.Sub(start))

		heartRate = append(heartRate, fitUint8(rec.HeartRate))
		power = append(power, fitUint16(rec.Power))
		cadence = append(cadence, fitUint8(rec.Cadence))
		speed = append(speed, fitScaled(rec.GetEnhancedSpeedScaled(), rec.GetSpeedScaled()))
		altitude = append(altitude, fitScaled(rec.GetEnhancedAltitudeScaled(), rec.GetAltitudeScaled()))
	}

	ts.Channels[types.MetricHeartRate] = heartRate
	ts.Channels[types.MetricPower] = power
	ts.Channels[types.MetricCadence] = cadence
	ts.Channels[types.MetricSpeed] = speed
	ts.Channels[types.MetricAltitude] = altitude

	for _, lap := range activity.Laps {
		if validTime(lap.StartTime) {
			ts.Laps = append(ts.Laps, types.Lap{Start: lap.StartTime.Sub(start)})
		}
	}

	return ts
}

func fitUint8(v uint8) float64 {
	if v == math.MaxUint8 {
		return math.NaN()
	}
	return float64(v)
}

func fitUint16(v uint16) float64 {
	if v == math.MaxUint16 {
		return math.NaN()
	}
	return float64(v)
}

// fitScaled prefers the enhanced field and falls back to the legacy one.
func fitScaled(enhanced, legacy float64) float64 {
	if !math.IsNaN(enhanced) {
		return enhanced
	}
	return legacy
}
