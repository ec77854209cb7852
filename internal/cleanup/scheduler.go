package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	cleanup     *CleanupService
	log         *zap.Logger
	retireEvery time.Duration
	purgeEvery  time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

const (
	defaultRetireEvery = 10 * time.Minute
	defaultPurgeEvery  = 6 * time.Hour
)

func NewScheduler(cleanup *CleanupService, retireEvery, purgeEvery time.Duration, log *zap.Logger) *Scheduler {
	if retireEvery <= 0 {
		retireEvery = defaultRetireEvery
	}
	if purgeEvery <= 0 {
		purgeEvery = defaultPurgeEvery
	}
	return &Scheduler{
		cleanup:     cleanup,
		log:         log,
		retireEvery: retireEvery,
		purgeEvery:  purgeEvery,
		stopCh:      make(chan struct{}),
	}
}

// Start запускает планировщик задач
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("starting cleanup scheduler")

	s.wg.Add(2)
	go s.run(ctx, "retire deleted items", s.retireEvery, true, s.cleanup.RetireDeletedItems)
	go s.run(ctx, "purge closed", s.purgeEvery, false, s.cleanup.PurgeClosed)
}

// Stop останавливает планировщик и ждёт завершения текущих задач
func (s *Scheduler) Stop() {
	s.log.Info("stopping cleanup scheduler")
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, every time.Duration, immediate bool, task func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	// удалённые предметы снимаем сразу при старте
	if immediate {
		if err := task(ctx); err != nil {
			s.log.Error("initial cleanup failed", zap.String("task", name), zap.Error(err))
		}
	}

	for {
		select {
		case <-ticker.C:
			if err := task(ctx); err != nil {
				s.log.Error("cleanup failed", zap.String("task", name), zap.Error(err))
			}
		case <-s.stopCh:
			s.log.Info("cleanup stopped", zap.String("task", name))
			return
		case <-ctx.Done():
			s.log.Info("cleanup cancelled", zap.String("task", name))
			return
		}
	}
}

// RunOnceNow выполняет полную очистку немедленно
func (s *Scheduler) RunOnceNow(ctx context.Context) error {
	return s.cleanup.RunFullCleanup(ctx)
}
