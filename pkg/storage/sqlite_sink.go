package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/httprunner/provisioner"
	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	runsTable          = "provision_runs"
	installationsTable = "provision_installations"
)

// ErrNoRun is returned by LatestRun when nothing has been written yet.
var ErrNoRun = pkgerrors.New("storage: no provisioning run stored")

// SQLiteSink keeps the latest run report in two tables. Every write replaces
// the previous run inside one transaction.
type SQLiteSink struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pkgerrors.New("storage: sqlite path is empty")
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db, path: path, now: time.Now}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			Timestamp TEXT NOT NULL,
			Device TEXT NOT NULL,
			TotalAPKs INTEGER NOT NULL,
			SuccessCount INTEGER NOT NULL,
			FailureCount INTEGER NOT NULL,
			WrittenAt INTEGER NOT NULL
		);`, quoteIdent(runsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			RunID INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			Position INTEGER NOT NULL,
			Path TEXT NOT NULL,
			FileName TEXT NOT NULL,
			Size INTEGER NOT NULL,
			Package TEXT,
			VersionName TEXT,
			VersionCode TEXT,
			SDKMin TEXT,
			SDKTarget TEXT,
			UninstallSuccess INTEGER,
			UninstallMessage TEXT,
			InstallSuccess INTEGER NOT NULL,
			InstallMessage TEXT NOT NULL
		);`, quoteIdent(installationsTable), quoteIdent(runsTable)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_run ON %s(RunID, Position);`,
			installationsTable, quoteIdent(installationsTable)),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: init sqlite schema failed")
		}
	}
	return nil
}

func (s *SQLiteSink) Write(ctx context.Context, report *provisioner.RunReport) (err error) {
	if s == nil || s.db == nil {
		return pkgerrors.New("storage: sqlite storage nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "storage: begin sqlite transaction failed")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{installationsTable, runsTable} {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s;", quoteIdent(table))); err != nil {
			return pkgerrors.Wrapf(err, "storage: clear %s failed", table)
		}
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(Timestamp, Device, TotalAPKs, SuccessCount, FailureCount, WrittenAt)
		VALUES (?, ?, ?, ?, ?, ?)`, quoteIdent(runsTable)),
		report.Timestamp, report.Device, report.TotalAPKs,
		report.SuccessCount, report.FailureCount, s.now().Unix())
	if err != nil {
		return pkgerrors.Wrap(err, "storage: insert run failed")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return pkgerrors.Wrap(err, "storage: read run id failed")
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(RunID, Position, Path, FileName, Size, Package, VersionName, VersionCode,
		 SDKMin, SDKTarget, UninstallSuccess, UninstallMessage, InstallSuccess, InstallMessage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdent(installationsTable)))
	if err != nil {
		return pkgerrors.Wrap(err, "storage: prepare installation insert failed")
	}
	defer stmt.Close()
	for idx, rec := range report.Installations {
		var uninstallOK, uninstallMsg any
		if rec.Uninstall != nil {
			uninstallOK = boolInt(rec.Uninstall.Succeeded)
			uninstallMsg = rec.Uninstall.Message
		}
		if _, err = stmt.ExecContext(ctx,
			runID, idx,
			rec.APK.Path, rec.APK.FileName, rec.APK.Size,
			nullable(rec.APK.Package), nullable(rec.APK.VersionName), nullable(rec.APK.VersionCode),
			nullable(rec.APK.SDK.Min), nullable(rec.APK.SDK.Target),
			uninstallOK, uninstallMsg,
			boolInt(rec.Install.Succeeded), rec.Install.Message,
		); err != nil {
			return pkgerrors.Wrapf(err, "storage: insert installation %s failed", rec.APK.FileName)
		}
	}
	if err = tx.Commit(); err != nil {
		return pkgerrors.Wrap(err, "storage: commit sqlite transaction failed")
	}
	return nil
}

// LatestRun reads back the stored run.
func (s *SQLiteSink) LatestRun(ctx context.Context) (*provisioner.RunReport, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New("storage: sqlite storage nil")
	}
	var (
		runID  int64
		report provisioner.RunReport
	)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, Timestamp, Device, TotalAPKs, SuccessCount, FailureCount
		FROM %s ORDER BY id DESC LIMIT 1`, quoteIdent(runsTable)))
	if err := row.Scan(&runID, &report.Timestamp, &report.Device, &report.TotalAPKs,
		&report.SuccessCount, &report.FailureCount); err != nil {
		if pkgerrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRun
		}
		return nil, pkgerrors.Wrap(err, "storage: query run failed")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT Path, FileName, Size, Package, VersionName, VersionCode,
		SDKMin, SDKTarget, UninstallSuccess, UninstallMessage, InstallSuccess, InstallMessage
		FROM %s WHERE RunID = ? ORDER BY Position ASC`, quoteIdent(installationsTable)), runID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query installations failed")
	}
	defer rows.Close()

	report.Installations = make([]provisioner.InstallationRecord, 0, report.TotalAPKs)
	for rows.Next() {
		var (
			rec                                         provisioner.InstallationRecord
			pkg, versionName, versionCode, sdkMin, sdkT sql.NullString
			uninstallOK                                 sql.NullInt64
			uninstallMsg                                sql.NullString
			installOK                                   int64
		)
		if err := rows.Scan(&rec.APK.Path, &rec.APK.FileName, &rec.APK.Size,
			&pkg, &versionName, &versionCode, &sdkMin, &sdkT,
			&uninstallOK, &uninstallMsg, &installOK, &rec.Install.Message); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan installation failed")
		}
		rec.APK.Package = fromNull(pkg)
		rec.APK.VersionName = fromNull(versionName)
		rec.APK.VersionCode = fromNull(versionCode)
		rec.APK.SDK.Min = fromNull(sdkMin)
		rec.APK.SDK.Target = fromNull(sdkT)
		if uninstallOK.Valid {
			rec.Uninstall = &provisioner.OperationOutcome{
				Succeeded: uninstallOK.Int64 == 1,
				Message:   uninstallMsg.String,
			}
		}
		rec.Install.Succeeded = installOK == 1
		report.Installations = append(report.Installations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: iterate installations failed")
	}
	return &report, nil
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSink) Name() string {
	if s == nil || s.path == "" {
		return "sqlite"
	}
	return s.path
}

func quoteIdent(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	escaped := strings.ReplaceAll(trimmed, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
