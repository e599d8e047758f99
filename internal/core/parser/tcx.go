package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"time"

	"training-backend/internal/core/types"
)

type tcxDatabase struct {
	Activities []tcxActivity `xml:"Activities>Activity"`
}

type tcxActivity struct {
	Sport string   `xml:"Sport,attr"`
	Laps  []tcxLap `xml:"Lap"`
}

type tcxLap struct {
	StartTime        string          `xml:"StartTime,attr"`
	TotalTimeSeconds *float64        `xml:"TotalTimeSeconds"`
	DistanceMeters   *float64        `xml:"DistanceMeters"`
	Calories         *float64        `xml:"Calories"`
	Trackpoints      []tcxTrackpoint `xml:"Track>Trackpoint"`
}

type tcxTrackpoint struct {
	Time           string   `xml:"Time"`
	AltitudeMeters *float64 `xml:"AltitudeMeters"`
	HeartRate      *float64 `xml:"HeartRateBpm>Value"`
	Cadence        *float64 `xml:"Cadence"`
	Speed          *float64 `xml:"Extensions>TPX>Speed"`
	Watts          *float64 `xml:"Extensions>TPX>Watts"`
}

// ParseTcx reads a Garmin Training Center file. TCX has no pause events and
// its timestamps carry their own offset, usually Z.
func ParseTcx(data []byte) (*ParsedActivity, error) {
	var doc tcxDatabase
	if err := xml.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	if len(doc.Activities) == 0 {
		return nil, fmt.Errorf("%w: no activity found", ErrInvalidContent)
	}
	activity := doc.Activities[0]

	var start time.Time
	for _, lap := range activity.Laps {
		t, err := time.Parse(time.RFC3339, lap.StartTime)
		if err != nil {
			continue
		}
		if start.IsZero() || t.Before(start) {
			start = t
		}
	}
	if start.IsZero() {
		return nil, ErrNoStartTime
	}

	return &ParsedActivity{
		StartTime:  start,
		Sport:      tcxSport(activity.Sport),
		Statistics: tcxStatistics(activity),
		Timeseries: tcxTimeseries(activity, start),
	}, nil
}

func tcxSport(sport string) types.Sport {
	switch sport {
	case "Running":
		return types.SportRunning
	case "Biking":
		return types.SportCycling
	}
	return types.SportOther
}

func tcxStatistics(activity tcxActivity) map[types.ActivityStatistic]float64 {
	stats := make(map[types.ActivityStatistic]float64)

	sum := func(stat types.ActivityStatistic, v *float64) {
		if v != nil {
			stats[stat] += *v
		}
	}

	var (
		prevAltitude = math.NaN()
		gain         float64
		hasAltitude  bool
	)
	for _, lap := range activity.Laps {
		sum(types.StatisticDuration, lap.TotalTimeSeconds)
		sum(types.StatisticDistance, lap.DistanceMeters)
		sum(types.StatisticCalories, lap.Calories)

		for _, tp := range lap.Trackpoints {
			if tp.AltitudeMeters == nil {
				continue
			}
			hasAltitude = true
			if !math.IsNaN(prevAltitude) && *tp.AltitudeMeters > prevAltitude {
				gain += *tp.AltitudeMeters - prevAltitude
			}
			prevAltitude = *tp.AltitudeMeters
		}
	}
	if hasAltitude {
		stats[types.StatisticElevation] = gain
	}

	return stats
}

func tcxTimeseries(activity tcxActivity, start time.Time) *types.ActivityTimeseries {
	ts := types.NewActivityTimeseries(0)

	channels := map[types.TimeseriesMetric]func(tcxTrackpoint) *float64{
		types.MetricHeartRate: func(tp tcxTrackpoint) *float64 { return tp.HeartRate },
		types.MetricPower:     func(tp tcxTrackpoint) *float64 { return tp.Watts },
		types.MetricCadence:   func(tp tcxTrackpoint) *float64 { return tp.Cadence },
		types.MetricSpeed:     func(tp tcxTrackpoint) *float64 { return tp.Speed },
		types.MetricAltitude:  func(tp tcxTrackpoint) *float64 { return tp.AltitudeMeters },
	}

	for _, lap := range activity.Laps {
		if lapStart, err := time.Parse(time.RFC3339, lap.StartTime); err == nil {
			ts.Laps = append(ts.Laps, types.Lap{Start: lapStart.Sub(start)})
		}

		for _, tp := range lap.Trackpoints {
			t, err := time.Parse(time.RFC3339, tp.Time)
			if err != nil {
				continue
			}
			ts.Time = append(ts.Time, t.Sub(start))

			for metric, field := range channels {
				v := math.NaN()
				if p := field(tp); p != nil {
					v = *p
				}
				ts.Channels[metric] = append(ts.Channels[metric], v)
			}
		}
	}

	return ts
}
