package service

import "github.com/open-policy-agent/merge-into-file/pkg/merge"

type BuildState int

const (
	BuildStateUnknown BuildState = iota
	BuildStateSuccess
	BuildStateSkipped
	BuildStateConfigFailed
	BuildStateBuildFailed
	BuildStatePublishFailed
)

func (s BuildState) String() string {
	switch s {
	case BuildStateSuccess:
		return "success"
	case BuildStateSkipped:
		return "skipped"
	case BuildStateConfigFailed:
		return "config_failed"
	case BuildStateBuildFailed:
		return "build_failed"
	case BuildStatePublishFailed:
		return "publish_failed"
	}
	return "unknown"
}

// Status is the outcome of the last run of a merge worker.
type Status struct {
	State   BuildState
	Message string
	Report  merge.Report
}
