package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"nexus-bot/internal/logger"
)

// BackupRetention is how long dumps are kept by the nightly job.
const BackupRetention = 31 * 24 * time.Hour

var ErrNoDatabase = errors.New("no database configured")

// Backup writes pg_dump archives into Dir.
type Backup struct {
	Dir string
	DSN string

	run func(ctx context.Context, name string, args ...string) error
	now func() time.Time
}

func NewBackup(dir, dsn string) *Backup {
	if dir == "" {
		dir = "backups"
	}
	return &Backup{
		Dir: dir,
		DSN: dsn,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		now: time.Now,
	}
}

// Create dumps the database to <Dir>/<prefix>_<timestamp>.dump.
func (b *Backup) Create(ctx context.Context, prefix string) (string, error) {
	if b.DSN == "" {
		return "", ErrNoDatabase
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return "", err
	}
	filename := filepath.Join(b.Dir, prefix+"_"+b.now().Format("20060102_150405")+".dump")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := b.run(ctx, "pg_dump", b.DSN, "-Fc", "-f", filename); err != nil {
		return "", fmt.Errorf("pg_dump: %w", err)
	}
	return filename, nil
}

// Clean removes dumps older than maxAge and reports how many went.
func (b *Backup) Clean(maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(b.Dir, "*backup_*.dump"))
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Auto is the nightly job: dump, then prune old dumps.
func (b *Backup) Auto(ctx context.Context) {
	filename, err := b.Create(ctx, "autobackup")
	if err != nil {
		logger.Error("auto backup failed", err)
		logger.NotifyAdmin("Auto backup failed: " + err.Error())
		return
	}
	removed, err := b.Clean(BackupRetention)
	if err != nil {
		logger.Warn("backup cleanup failed", zap.Error(err))
	}
	logger.Info("auto backup created", zap.String("file", filename), zap.Int("pruned", removed))
}
