package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// The database lives in a .hourline directory inside the workspace, next to
// hourline.yml.
const (
	workspaceDir  = ".hourline"
	defaultDBName = "hourline.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the workspace data directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database. Foreign keys are enforced and writers
// wait out short lock contention instead of failing with SQLITE_BUSY.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// shared-cache sqlite requires a single connection
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}
