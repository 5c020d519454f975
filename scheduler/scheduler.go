package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"auction_scraper/config"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Runner runs a site's saved searches.
type Runner interface {
	Sites() []string
	RunScheduled(ctx context.Context, siteID string) error
}

// Scheduler fires saved searches. A site with its own schedule.cron runs on
// that; the rest share SCRAPE_CRON, or SCRAPE_INTERVAL when no cron is set.
type Scheduler struct {
	cfg    config.SchedulerConfig
	sites  map[string]*config.SiteConfig
	runner Runner
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}

	detailWorker Triggerable
}

func New(cfg config.SchedulerConfig, sites map[string]*config.SiteConfig, runner Runner) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.New(os.Stdout, "cron: ", log.LstdFlags))
	return &Scheduler{
		cfg:    cfg,
		sites:  sites,
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		stopCh: make(chan struct{}),
	}
}

// SetDetailWorker registers the worker nudged after every scheduled site run.
func (s *Scheduler) SetDetailWorker(w Triggerable) {
	s.detailWorker = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	var shared []string
	for _, id := range s.runner.Sites() {
		site := s.sites[id]
		if site == nil || site.Schedule == nil || site.Schedule.Cron == "" {
			shared = append(shared, id)
			continue
		}
		id := id
		log.Printf("Scheduling %s with cron: %s", id, site.Schedule.Cron)
		if _, err := s.cron.AddFunc(site.Schedule.Cron, func() { s.runSite(ctx, id) }); err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", id, err)
		}
	}

	switch {
	case len(shared) == 0:
	case s.cfg.Cron != "":
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		if _, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runSites(ctx, shared) }); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case s.cfg.Interval > 0:
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runSites(ctx, shared)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		log.Printf("No schedule configured for %v", shared)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow runs every site's saved searches immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runSites(ctx, s.runner.Sites())
}

func (s *Scheduler) runSites(ctx context.Context, ids []string) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		s.runSite(ctx, id)
	}
}

func (s *Scheduler) runSite(ctx context.Context, id string) {
	if err := s.runner.RunScheduled(ctx, id); err != nil {
		log.Printf("Scheduled run error for %s: %v", id, err)
		return
	}
	if s.detailWorker != nil {
		s.detailWorker.Trigger()
	}
}
