// Package cron injects scheduled prompts into conversations. Each job has
// a cron expression and a target (account, user, chat); when due, the
// prompt is published as a normal inbound message so it rides the same
// routing and turn serialization as real user traffic.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

// ResolveFunc maps an account label to its platform and live bot identity.
// Jobs whose account cannot be resolved are skipped for that tick.
type ResolveFunc func(account string) (platform, botID string, ok bool)

// Service schedules and fires the configured jobs.
type Service struct {
	bus     *bus.MessageBus
	resolve ResolveFunc
	gron    *gronx.Gronx

	mu      sync.Mutex
	jobs    []config.CronJob
	lastRun map[string]time.Time
	cancel  context.CancelFunc
	running bool
}

// New builds an idle service. Invalid schedules are dropped with a warning
// so one typo does not take down the rest.
func New(b *bus.MessageBus, jobs []config.CronJob, resolve ResolveFunc) *Service {
	g := gronx.New()
	valid := make([]config.CronJob, 0, len(jobs))
	for _, job := range jobs {
		if !g.IsValid(job.Schedule) {
			logger.WarnCF("cron", "Dropping job with invalid schedule", map[string]interface{}{
				"job":      job.Name,
				"schedule": job.Schedule,
			})
			continue
		}
		valid = append(valid, job)
	}
	return &Service{
		bus:     b,
		resolve: resolve,
		gron:    g,
		jobs:    valid,
		lastRun: make(map[string]time.Time),
	}
}

// Start begins the minute ticker. No-op when no jobs survived validation.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.jobs) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	go s.loop(ctx)
	logger.InfoCF("cron", "Scheduler started", map[string]interface{}{
		"jobs": len(s.jobs),
	})
}

// Stop halts the scheduler. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	logger.InfoC("cron", "Scheduler stopped")
}

// Jobs returns the validated job list.
func (s *Service) Jobs() []config.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]config.CronJob(nil), s.jobs...)
}

// Status summarizes the scheduler for the dashboard.
func (s *Service) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.jobs))
	for _, job := range s.jobs {
		if t, err := gronx.NextTick(job.Schedule, false); err == nil {
			next[job.Name] = t.UTC().Format(time.RFC3339)
		}
	}
	return map[string]interface{}{
		"running":   s.running,
		"jobs":      len(s.jobs),
		"next_runs": next,
	}
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires every job due in the current minute, at most once per minute
// per job.
func (s *Service) tick(now time.Time) {
	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	jobs := append([]config.CronJob(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := s.gron.IsDue(job.Schedule, minute)
		if err != nil || !due {
			continue
		}
		s.mu.Lock()
		if last, ok := s.lastRun[job.Name]; ok && !last.Before(minute) {
			s.mu.Unlock()
			continue
		}
		s.lastRun[job.Name] = minute
		s.mu.Unlock()
		s.fire(job)
	}
}

func (s *Service) fire(job config.CronJob) {
	platform, botID, ok := s.resolve(job.Account)
	if !ok {
		logger.WarnCF("cron", "Job target account not connected", map[string]interface{}{
			"job":     job.Name,
			"account": job.Account,
		})
		return
	}
	logger.InfoCF("cron", "Firing scheduled prompt", map[string]interface{}{
		"job":     job.Name,
		"account": job.Account,
	})
	s.bus.PublishInbound(bus.InboundMessage{
		Platform: platform,
		Account:  job.Account,
		BotID:    botID,
		UserID:   job.UserID,
		ChatID:   job.ChatID,
		Text:     job.Prompt,
		Metadata: map[string]string{"source": "cron", "job": job.Name},
	})
}
