package core

import "errors"

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrMetricNotFound     = errors.New("training metric not found")
	ErrPeriodNotFound     = errors.New("training period not found")
	ErrInvalidScopeChange = errors.New("a metric scope can only be changed to global")
	ErrEmptyUpdate        = errors.New("nothing to update")
	ErrDuplicateMetricIds = errors.New("ordering contains duplicate metric ids")
	ErrInvalidPeriod      = errors.New("invalid training period")
	ErrInvalidActivity    = errors.New("invalid activity update")
	ErrUnreadableFile     = errors.New("activity file cannot be read")
)
