package query

import "errors"

var (
	ErrInvalidPlan      = errors.New("invalid query plan")
	ErrRunnerFailed     = errors.New("query runner failed")
	ErrReporterFailed   = errors.New("result reporter failed")
	ErrPipelineCreation = errors.New("failed to create query pipeline")
)
