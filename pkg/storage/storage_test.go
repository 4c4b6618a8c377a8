package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/httprunner/provisioner"
	"github.com/rs/zerolog"
)

func sampleReport() *provisioner.RunReport {
	name := "com.example.app"
	version := "1.2.0"
	minSDK := "24"
	report := provisioner.NewRunReport(time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC), "emulator-5554", 2)
	report.Add(provisioner.InstallationRecord{
		APK: provisioner.PackageDescriptor{
			Path: "/app/provisioning/a.apk", FileName: "a.apk", Size: 1024,
			Package: &name, VersionName: &version, SDK: provisioner.SDKLevels{Min: &minSDK},
		},
		Uninstall: &provisioner.OperationOutcome{Succeeded: false, Message: "Failure [DELETE_FAILED_INTERNAL_ERROR]"},
		Install:   provisioner.OperationOutcome{Succeeded: true, Message: "Installation successful"},
	})
	report.Add(provisioner.InstallationRecord{
		APK:     provisioner.PackageDescriptor{Path: "/app/provisioning/b.apk", FileName: "b.apk", Size: 10},
		Install: provisioner.OperationOutcome{Succeeded: false, Message: "INSTALL_FAILED_INVALID_APK"},
	})
	return report
}

type failingSink struct{ closed bool }

func (f *failingSink) Write(context.Context, *provisioner.RunReport) error {
	return errors.New("disk full")
}
func (f *failingSink) Close() error { f.closed = true; return nil }
func (f *failingSink) Name() string { return "failing" }

func TestJSONFileSinkOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "installation_results.json")
	sink := NewJSONFileSink(path)

	if err := sink.Write(context.Background(), sampleReport()); err != nil {
		t.Fatalf("write: %v", err)
	}
	empty := provisioner.NewRunReport(time.Unix(0, 0).UTC(), "emulator-5554", 0)
	if err := sink.Write(context.Background(), empty); err != nil {
		t.Fatalf("second write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"timestamp\"") {
		t.Fatalf("expected two-space indentation, got %s", raw)
	}
	var decoded provisioner.RunReport
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TotalAPKs != 0 || len(decoded.Installations) != 0 {
		t.Fatalf("file should hold only the latest report, got %+v", decoded)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone, stat err=%v", err)
	}
}

func TestSQLiteSinkKeepsLatestRun(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "results.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	if _, err := sink.LatestRun(context.Background()); !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected ErrNoRun, got %v", err)
	}

	first := provisioner.NewRunReport(time.Unix(0, 0).UTC(), "old-device", 0)
	if err := sink.Write(context.Background(), first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	want := sampleReport()
	if err := sink.Write(context.Background(), want); err != nil {
		t.Fatalf("write second: %v", err)
	}

	got, err := sink.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if got.Device != "emulator-5554" || got.Timestamp != "2026-05-06 07:08:09" {
		t.Fatalf("unexpected header %+v", got)
	}
	if got.TotalAPKs != 2 || got.SuccessCount != 1 || got.FailureCount != 1 || !got.Consistent() {
		t.Fatalf("unexpected counters %+v", got)
	}
	a, b := got.Installations[0], got.Installations[1]
	if a.APK.Identity() != "com.example.app" || a.APK.VersionCode != nil || *a.APK.SDK.Min != "24" {
		t.Fatalf("unexpected first descriptor %+v", a.APK)
	}
	if a.Uninstall == nil || a.Uninstall.Succeeded || a.Uninstall.Message != "Failure [DELETE_FAILED_INTERNAL_ERROR]" {
		t.Fatalf("unexpected uninstall %+v", a.Uninstall)
	}
	if b.Uninstall != nil || b.Install.Succeeded || b.Install.Message != "INSTALL_FAILED_INVALID_APK" {
		t.Fatalf("unexpected second record %+v", b)
	}

	var runs int
	if err := sink.db.QueryRow(`SELECT COUNT(*) FROM provision_runs`).Scan(&runs); err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected a single stored run, got %d", runs)
	}
}

func TestManagerFansOutAndJoinsErrors(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	bad := &failingSink{}
	manager := NewManagerWithSinks(zerolog.Nop(), bad, NewJSONFileSink(jsonPath))

	err := manager.Write(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "failing write failed") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if _, statErr := os.Stat(jsonPath); statErr != nil {
		t.Fatalf("healthy sink must still be written: %v", statErr)
	}
	if manager.Name() != "failing,"+jsonPath {
		t.Fatalf("unexpected name %q", manager.Name())
	}
	if err := manager.Close(); err != nil || !bad.closed {
		t.Fatalf("close: %v closed=%v", err, bad.closed)
	}
}

func TestNewManagerRequiresSink(t *testing.T) {
	if _, err := NewManager(Config{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without sinks")
	}
	dir := t.TempDir()
	manager, err := NewManager(Config{
		JSONPath:   filepath.Join(dir, "r.json"),
		SQLitePath: filepath.Join(dir, "r.sqlite"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer manager.Close()
	if len(manager.sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(manager.sinks))
	}
}

func TestNewManagerSkipsUnopenableSQLite(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	jsonPath := filepath.Join(dir, "r.json")
	manager, err := NewManager(Config{
		JSONPath:   jsonPath,
		SQLitePath: filepath.Join(blocker, "sub", "r.sqlite"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("json sink should survive a bad sqlite path: %v", err)
	}
	defer manager.Close()
	if len(manager.sinks) != 1 || manager.Name() != jsonPath {
		t.Fatalf("expected only the json sink, got %q", manager.Name())
	}

	_, err = NewManager(Config{SQLitePath: filepath.Join(blocker, "sub", "r.sqlite")}, zerolog.Nop())
	if !errors.Is(err, ErrNoSinks) {
		t.Fatalf("expected ErrNoSinks, got %v", err)
	}
}
