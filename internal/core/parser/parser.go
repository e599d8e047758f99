package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"training-backend/internal/core/types"
)

const (
	ExtensionFit = "fit"
	ExtensionTcx = "tcx"
)

var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrInvalidContent       = errors.New("invalid file content")
	ErrNoStartTime          = errors.New("no start time found")
	ErrIncoherentTimeseries = errors.New("incoherent timeseries")
)

// ParsedActivity is what an activity file yields. StartTime is in the
// activity's own UTC offset when the file records one.
type ParsedActivity struct {
	StartTime  time.Time
	Sport      types.Sport
	Statistics map[types.ActivityStatistic]float64
	Timeseries *types.ActivityTimeseries
}

// Extension returns the normalized extension of a supported file name.
func Extension(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case ExtensionFit, ExtensionTcx:
		return ext, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnsupportedExtension, filepath.Ext(filename))
}

func Parse(ext string, data []byte) (*ParsedActivity, error) {
	var (
		parsed *ParsedActivity
		err    error
	)
	switch ext {
	case ExtensionFit:
		parsed, err = ParseFit(data)
	case ExtensionTcx:
		parsed, err = ParseTcx(data)
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedExtension, ext)
	}
	if err != nil {
		return nil, err
	}

	if !parsed.Timeseries.IsCoherent() {
		return nil, ErrIncoherentTimeseries
	}

	return parsed, nil
}

func withOffset(t time.Time, offset time.Duration) time.Time {
	offset = offset.Round(time.Minute)
	if offset == 0 || offset > types.MaxUtcOffset || offset < -types.MaxUtcOffset {
		return t.UTC()
	}
	return t.In(time.FixedZone("", int(offset.Seconds())))
}
