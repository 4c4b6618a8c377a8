package provisioner

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		total, succeeded int
		want             Classification
		state            WorkloadState
		exit             int
	}{
		{0, 0, ClassFailed, WorkloadFailed, 1},
		{3, 3, ClassSucceeded, WorkloadSucceeded, 0},
		{3, 1, ClassPartial, WorkloadSucceeded, 0},
		{3, 0, ClassFailed, WorkloadFailed, 1},
		{1, 1, ClassSucceeded, WorkloadSucceeded, 0},
	}
	for _, tc := range cases {
		got := Classify(tc.total, tc.succeeded)
		if got != tc.want {
			t.Fatalf("Classify(%d, %d) = %s, want %s", tc.total, tc.succeeded, got, tc.want)
		}
		if got.WorkloadState() != tc.state {
			t.Fatalf("Classify(%d, %d) state = %s, want %s", tc.total, tc.succeeded, got.WorkloadState(), tc.state)
		}
		if got.ExitCode() != tc.exit {
			t.Fatalf("Classify(%d, %d) exit = %d, want %d", tc.total, tc.succeeded, got.ExitCode(), tc.exit)
		}
	}
}

func TestRunReportCounters(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	report := NewRunReport(at, "emulator-5554", 3)
	if report.Timestamp != "2026-03-04 05:06:07" {
		t.Fatalf("unexpected timestamp %q", report.Timestamp)
	}
	if report.Consistent() {
		t.Fatal("report without records must not be consistent for total 3")
	}
	report.Add(InstallationRecord{Install: OperationOutcome{Succeeded: true, Message: "Installation successful"}})
	report.Add(InstallationRecord{Install: OperationOutcome{Succeeded: false, Message: "INSTALL_FAILED"}})
	report.Add(InstallationRecord{Install: OperationOutcome{Succeeded: true, Message: "Installation successful"}})
	if report.SuccessCount != 2 || report.FailureCount != 1 {
		t.Fatalf("unexpected counters %d/%d", report.SuccessCount, report.FailureCount)
	}
	if !report.Consistent() {
		t.Fatal("expected consistent report")
	}
}

func TestRunReportJSONShape(t *testing.T) {
	empty := NewRunReport(time.Unix(0, 0).UTC(), "dev", 0)
	raw, err := json.Marshal(empty)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	items, ok := decoded["installations"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("installations should be an empty list, got %v", decoded["installations"])
	}

	name := "com.example.app"
	rec := InstallationRecord{
		APK:     PackageDescriptor{Path: "/a/app.apk", FileName: "app.apk", Size: 10, Package: &name},
		Install: OperationOutcome{Succeeded: true, Message: "Installation successful"},
	}
	raw, err = json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	decoded = map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if _, ok := decoded["uninstall_result"]; !ok || decoded["uninstall_result"] != nil {
		t.Fatalf("uninstall_result should be present and null, got %v", decoded["uninstall_result"])
	}
	apk := decoded["apk"].(map[string]any)
	if apk["version_name"] != nil || apk["package"] != "com.example.app" {
		t.Fatalf("unexpected apk fields %v", apk)
	}
}

func TestIdentity(t *testing.T) {
	if (PackageDescriptor{}).Identity() != "" {
		t.Fatal("nil package should have empty identity")
	}
	name := " com.example.app "
	if got := (PackageDescriptor{Package: &name}).Identity(); got != "com.example.app" {
		t.Fatalf("unexpected identity %q", got)
	}
}
