package service

import (
	"context"
	"fmt"

	"hostpost/internal/constants"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler drives the reconciler and the dispatcher on fixed intervals.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	dispatcher *Dispatcher
	logger     *logrus.Logger
	stopCh     chan struct{}
}

func NewScheduler(reconciler *Reconciler, dispatcher *Dispatcher, reconcileIntervalMin, dispatchIntervalMin int, logger *logrus.Logger) (*Scheduler, error) {
	if reconcileIntervalMin <= 0 {
		reconcileIntervalMin = constants.DefaultReconcileIntervalMin
	}
	if dispatchIntervalMin <= 0 {
		dispatchIntervalMin = constants.DefaultDispatchIntervalMin
	}

	s := &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		dispatcher: dispatcher,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", reconcileIntervalMin), s.runReconcile); err != nil {
		return nil, fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", dispatchIntervalMin), s.runDispatch); err != nil {
		return nil, fmt.Errorf("failed to schedule dispatcher: %w", err)
	}

	return s, nil
}

// Start runs an immediate reconciliation pass, then hands the intervals to
// cron. It blocks until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting publishing scheduler")

	s.runReconcile()
	s.runDispatch()

	s.cron.Start()
	defer func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Scheduler context cancelled, stopping")
	case <-s.stopCh:
		s.logger.Info("Scheduler stop signal received, stopping")
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runReconcile() {
	if err := s.reconciler.EnsureScheduledPostsEnqueued(context.Background()); err != nil {
		s.logger.WithError(err).Error("Reconciliation pass failed")
	}
}

func (s *Scheduler) runDispatch() {
	if err := s.dispatcher.DispatchDueEntries(context.Background()); err != nil {
		s.logger.WithError(err).Error("Dispatch pass failed")
	}
}
