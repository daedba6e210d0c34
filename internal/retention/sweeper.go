// Package retention removes backup artifacts older than a configured age.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// artifactSuffixes are the only file endings the sweeper will ever delete.
// Anything else in the store directory is left alone regardless of age.
var artifactSuffixes = []string{".ova", ".tar.gz", ".tar.gz.age", ".mf"}

// Result summarizes one sweep.
type Result struct {
	DeletedCount int
	FreedBytes   int64
}

// Sweeper deletes aged-out artifacts from the backup store directory.
type Sweeper struct {
	log    log.FieldLogger
	now    func() time.Time
	remove func(string) error
}

func NewSweeper(logger log.FieldLogger) *Sweeper {
	return &Sweeper{
		log:    logger,
		now:    time.Now,
		remove: os.Remove,
	}
}

// IsArtifact reports whether name carries a recognized backup artifact suffix.
func IsArtifact(name string) bool {
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Sweep scans the immediate entries of storeDir and deletes recognized
// artifacts whose modification time is strictly before now minus
// retentionDays. A single failed deletion is logged and skipped; the sweep
// always runs to completion.
func (s *Sweeper) Sweep(storeDir string, retentionDays int) (Result, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	s.log.WithFields(log.Fields{
		"retention_days": retentionDays,
		"cutoff":         cutoff.Format("2006-01-02"),
	}).Info("🧹 Cleaning up old backups")

	entries, err := os.ReadDir(storeDir)
	if err != nil {
		return Result{}, fmt.Errorf("read backup store %s: %w", storeDir, err)
	}

	var result Result
	for _, entry := range entries {
		if entry.IsDir() || !IsArtifact(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.log.WithField("file", entry.Name()).WithError(err).Warn("Failed to stat backup file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(storeDir, entry.Name())
		size := info.Size()
		if err := s.remove(path); err != nil {
			s.log.WithField("file", entry.Name()).WithError(err).Warn("Failed to delete old backup")
			continue
		}

		result.DeletedCount++
		result.FreedBytes += size
		s.log.WithFields(log.Fields{
			"file": entry.Name(),
			"size": humanGB(size),
		}).Info("Deleted old backup")
	}

	if result.DeletedCount > 0 {
		s.log.WithFields(log.Fields{
			"deleted": result.DeletedCount,
			"freed":   humanGB(result.FreedBytes),
		}).Info("✅ Cleanup complete")
	} else {
		s.log.Info("No old backups to clean up")
	}
	return result, nil
}

func humanGB(bytes int64) string {
	return fmt.Sprintf("%.2f GB", float64(bytes)/(1024*1024*1024))
}
