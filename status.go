package provisioner

import (
	"context"

	"github.com/rs/zerolog"
)

// WorkloadState is a lifecycle state understood by the workload orchestrator.
type WorkloadState string

const (
	WorkloadSucceeded WorkloadState = "SUCCEEDED"
	WorkloadFailed    WorkloadState = "FAILED"
	WorkloadRunning   WorkloadState = "RUNNING"
	WorkloadPending   WorkloadState = "PENDING"
)

// StatusReporter pushes a workload state to the orchestrator. Implementations
// are best-effort; callers log returned errors and carry on.
type StatusReporter interface {
	UpdateWorkloadState(ctx context.Context, workload string, state WorkloadState) error
}

// NoopReporter is used when no orchestrator is reachable. It only logs.
type NoopReporter struct {
	Logger zerolog.Logger
}

func (r NoopReporter) UpdateWorkloadState(ctx context.Context, workload string, state WorkloadState) error {
	r.Logger.Info().Str("workload", workload).Str("state", string(state)).Msg("workload state (no orchestrator configured)")
	return nil
}
