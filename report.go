package provisioner

import (
	"strings"
	"time"
)

// TimestampLayout is the format of RunReport.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// SDKLevels holds the platform levels declared by a package.
type SDKLevels struct {
	Min    *string `json:"min"`
	Target *string `json:"target"`
}

// PackageDescriptor describes one package file. Only Path, FileName and Size
// are guaranteed; the declared fields stay nil when inspection degrades.
type PackageDescriptor struct {
	Path        string    `json:"path"`
	FileName    string    `json:"filename"`
	Size        int64     `json:"size"`
	Package     *string   `json:"package"`
	VersionName *string   `json:"version_name"`
	VersionCode *string   `json:"version_code"`
	SDK         SDKLevels `json:"sdk"`
}

// Identity returns the declared package name or "" when unknown.
func (d PackageDescriptor) Identity() string {
	if d.Package == nil {
		return ""
	}
	return strings.TrimSpace(*d.Package)
}

// OperationOutcome is the result of one uninstall or install attempt.
// Message is always populated.
type OperationOutcome struct {
	Succeeded bool   `json:"success"`
	Message   string `json:"message"`
}

// InstallationRecord captures everything done for one package.
type InstallationRecord struct {
	APK       PackageDescriptor `json:"apk"`
	Uninstall *OperationOutcome `json:"uninstall_result"`
	Install   OperationOutcome  `json:"install_result"`
}

// RunReport is the machine-readable result of one provisioning run.
type RunReport struct {
	Timestamp     string               `json:"timestamp"`
	Device        string               `json:"device"`
	TotalAPKs     int                  `json:"total_apks"`
	Installations []InstallationRecord `json:"installations"`
	SuccessCount  int                  `json:"success_count"`
	FailureCount  int                  `json:"failure_count"`
}

// NewRunReport starts an empty report for total packages on device.
func NewRunReport(at time.Time, device string, total int) *RunReport {
	if total < 0 {
		total = 0
	}
	return &RunReport{
		Timestamp:     at.Format(TimestampLayout),
		Device:        device,
		TotalAPKs:     total,
		Installations: make([]InstallationRecord, 0, total),
	}
}

// Add appends rec and updates the counters from its install outcome.
func (r *RunReport) Add(rec InstallationRecord) {
	r.Installations = append(r.Installations, rec)
	if rec.Install.Succeeded {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}
}

// Consistent reports whether success + failure == total == len(installations).
func (r *RunReport) Consistent() bool {
	if r == nil {
		return false
	}
	n := len(r.Installations)
	return r.SuccessCount+r.FailureCount == n && n == r.TotalAPKs
}

// Classification is the overall verdict of a run.
type Classification string

const (
	ClassSucceeded Classification = "succeeded"
	// ClassPartial means some but not all installs succeeded. It maps to a
	// SUCCEEDED workload state and exit code 0.
	ClassPartial Classification = "partial"
	ClassFailed  Classification = "failed"
)

// Classify computes the verdict from install counts. Zero packages is a failure.
func Classify(total, succeeded int) Classification {
	switch {
	case total <= 0:
		return ClassFailed
	case succeeded >= total:
		return ClassSucceeded
	case succeeded > 0:
		return ClassPartial
	default:
		return ClassFailed
	}
}

// WorkloadState maps the verdict onto the terminal workload state.
func (c Classification) WorkloadState() WorkloadState {
	if c == ClassSucceeded || c == ClassPartial {
		return WorkloadSucceeded
	}
	return WorkloadFailed
}

// ExitCode maps the verdict onto the process exit code.
func (c Classification) ExitCode() int {
	if c.WorkloadState() == WorkloadSucceeded {
		return 0
	}
	return 1
}
