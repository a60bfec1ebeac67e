package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

const defaultRetentionCron = "0 3 * * *"

// StartRetention prunes old output files and finished jobs on the configured
// cron schedule. A zero max age disables it.
func (s *Server) StartRetention(ctx context.Context) error {
	if s.cfg.RetentionMaxAge <= 0 {
		s.logger.Info("Output retention disabled")
		return nil
	}
	expr := s.cfg.RetentionCron
	if expr == "" {
		expr = defaultRetentionCron
	}
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid retention cron expression: %s", expr)
	}

	s.logger.Info("Output retention enabled",
		zap.String("cron", expr),
		zap.Duration("max_age", s.cfg.RetentionMaxAge))
	go s.retentionLoop(ctx, expr)
	return nil
}

func (s *Server) retentionLoop(ctx context.Context, expr string) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			s.logger.Error("Failed to compute next retention run", zap.Error(err))
			next = time.Now().Add(time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			files, jobs, err := s.PruneOutputs(time.Now().Add(-s.cfg.RetentionMaxAge))
			if err != nil {
				s.logger.Error("Failed to prune outputs", zap.Error(err))
				continue
			}
			s.logger.Info("Pruned outputs", zap.Int("files", files), zap.Int("jobs", jobs))
		}
	}
}

// PruneOutputs removes generated images and finished jobs older than cutoff.
func (s *Server) PruneOutputs(cutoff time.Time) (int, int, error) {
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		return 0, 0, fmt.Errorf("read output directory: %w", err)
	}

	files := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.OutputDir, e.Name())); err != nil {
			s.logger.Warn("Failed to remove output", zap.Error(err), zap.String("file", e.Name()))
			continue
		}
		files++
	}

	jobs := 0
	if s.jobs != nil {
		jobs, err = s.jobs.Prune(cutoff)
		if err != nil {
			return files, 0, err
		}
	}
	return files, jobs, nil
}
