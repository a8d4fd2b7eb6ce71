// Package service holds the long-running background loops: the scheduled
// sync driver and the live-update listener. Both share one source
// connection; two independent sessions would contend for the provider's
// session lock.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/source"
	syncengine "github.com/telvault/telvault/internal/sync"
)

// Scheduler runs full sync passes on a fixed interval. An initial run
// fires immediately at startup; shutdown waits for the in-flight run to
// finish its current batch (the runner checks ctx between operations).
type Scheduler struct {
	runner   *syncengine.Runner
	conn     *source.SharedConn
	interval time.Duration
}

// NewScheduler creates the scheduled sync driver.
func NewScheduler(runner *syncengine.Runner, conn *source.SharedConn, interval time.Duration) *Scheduler {
	return &Scheduler{runner: runner, conn: conn, interval: interval}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info("Scheduler started", "interval", s.interval)
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.conn.Acquire(ctx); err != nil {
		log.Error("Scheduler could not acquire source connection", "err", err)
		return
	}
	defer s.conn.Release()

	report, err := s.runner.Run(ctx)
	if err != nil {
		log.Error("Scheduled sync run failed", "err", err)
		return
	}
	log.Info("Scheduled sync run complete",
		"chats", report.ChatsSynced,
		"messages", report.Messages,
		"attachments", report.AttachmentsDownloaded)
}
