package indexer

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/roadbook/internal/agent/telemetry"
	"github.com/mohammad-safakhou/roadbook/internal/cache"
)

// Scheduler triggers periodic index refreshes on a cron schedule. A redis
// lock keeps replicas from triggering duplicate runs.
type Scheduler struct {
	Client   *Client
	Cron     string
	Cache    *cache.Cache
	Tele     *telemetry.Telemetry
	Interval time.Duration // tick interval, defaults to a minute
	Stop     chan struct{}

	logger  *log.Logger
	lastRun *time.Time
}

func NewScheduler(client *Client, cron string, c *cache.Cache, tele *telemetry.Telemetry) *Scheduler {
	return &Scheduler{
		Client: client,
		Cron:   cron,
		Cache:  c,
		Tele:   tele,
		Stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	if s.Cron == "" {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.Cron, s.lastRun) {
		return
	}
	ctx := context.Background()

	// distributed lock to avoid duplicate runs across replicas
	if s.Cache != nil {
		ok, err := s.Cache.Lock(ctx, "indexer:refresh", 30*time.Minute)
		if err != nil || !ok {
			return
		}
		defer s.Cache.Unlock(ctx, "indexer:refresh")
	}

	now := time.Now()
	s.lastRun = &now
	s.logger.Printf("scheduled index refresh starting")

	res, err := s.Client.RunAndWait(ctx, 15*time.Second, 30*time.Minute)
	if err != nil {
		s.logger.Printf("scheduled refresh failed: %v", err)
		if s.Tele != nil {
			s.Tele.RecordIndexerRun("failed", time.Since(now))
		}
		return
	}
	if s.Tele != nil {
		s.Tele.RecordIndexerRun(res.Status, time.Since(now))
	}
	s.logger.Printf("scheduled refresh finished: status=%s processed=%d failed=%d",
		res.Status, res.ItemsProcessed, res.ItemsFailed)
}

// isDue determines whether the schedule should fire now given the last run
// time. Supports "@daily", "@hourly", and standard cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
