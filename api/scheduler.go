/*
scheduler.go - Automated due-payment scheduler

PURPOSE:
  Periodically charges payments that have fallen due and sends reminders
  for payments coming due soon.

DESIGN:
  - robfig/cron drives the runs from a standard 5-field cron spec
  - Overlapping runs are skipped, never queued
  - Without a gateway only reminders are sent
  - Batch results feed the due-batch Prometheus counter

CONFIGURATION:
  - Spec:           cron expression (default: "0 6 * * *", daily at 06:00)
  - ReminderWindow: how far ahead reminders look (default: 7 days)

USAGE:
  scheduler, err := NewDueScheduler(ledger, SchedulerConfig{}, metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ExecuteDuePayments endpoint (manual run)
  - payments/batch.go: ExecuteAllDuePayments, SendDueReminders
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huntred/billing-engine/generic"
	"github.com/huntred/billing-engine/logger"
	"github.com/huntred/billing-engine/payments"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultDueSchedule    = "0 6 * * *"
	DefaultReminderWindow = 7 * 24 * time.Hour
)

type SchedulerConfig struct {
	Spec           string
	ReminderWindow time.Duration
	Clock          generic.Clock
}

// DueScheduler runs due-payment batches on a cron schedule.
type DueScheduler struct {
	ledger  *payments.Ledger
	metrics *Metrics
	cfg     SchedulerConfig
	log     *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewDueScheduler validates the cron spec and registers the job. Nil
// metrics are allowed.
func NewDueScheduler(ledger *payments.Ledger, cfg SchedulerConfig, metrics *Metrics, log *zap.Logger) (*DueScheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultDueSchedule
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = DefaultReminderWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = generic.SystemClock
	}

	s := &DueScheduler{
		ledger:  ledger,
		metrics: metrics,
		cfg:     cfg,
		log:     logger.OrNop(log).Named("scheduler"),
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(cfg.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduler.
func (s *DueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Info("due-payment scheduler started", zap.String("spec", s.cfg.Spec))
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *DueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("due-payment scheduler stopped")
}

// RunOnce charges due payments and sends reminders as of now.
func (s *DueScheduler) RunOnce(ctx context.Context) {
	now := s.cfg.Clock()

	result, err := s.ledger.ExecuteAllDuePayments(ctx, now, generic.MethodGateway)
	switch {
	case errors.Is(err, payments.ErrNoGateway):
		s.log.Debug("no gateway configured, skipping charges")
	case err != nil:
		s.log.Error("due-payment batch failed", zap.Error(err))
	case s.metrics != nil:
		s.metrics.recordBatch(result)
	}

	sent, err := s.ledger.SendDueReminders(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		s.log.Error("due reminders failed", zap.Error(err))
		return
	}
	s.log.Debug("scheduler run complete", zap.Int("reminders", sent))
}
