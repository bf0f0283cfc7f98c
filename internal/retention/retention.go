package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	Interval   time.Duration
	KeepRecent int
}

func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Minute,
		KeepRecent: 10000,
	}
}

// Pruner is the archive the service trims.
type Pruner interface {
	PruneKeepRecent(ctx context.Context, keep int) (int64, error)
}

// Service periodically trims the submission archive to its newest rows.
type Service struct {
	archive Pruner
	config  Config
	logger  *slog.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(archive Pruner, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		archive: archive,
		config:  config,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("retention service started", "interval", s.config.Interval, "keep", s.config.KeepRecent)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.PruneNow()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PruneNow()
		}
	}
}

// PruneNow runs one pass and returns how many rows were removed.
func (s *Service) PruneNow() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.archive.PruneKeepRecent(ctx, s.config.KeepRecent)
	if err != nil {
		s.logger.Error("retention: prune failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.Info("retention: pruned submissions", "removed", removed, "kept", s.config.KeepRecent)
	}
	return removed
}
