package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/infra/metrics"
)

// Job is one periodic unit of work. Run returns how many items it handled.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Scheduler runs a Job every interval, each run bounded by timeout.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	job      Job
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler defaults interval to one minute and timeout to the interval.
func NewScheduler(interval, timeout time.Duration, job Job, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	lg := logger.With().Str("component", "scheduler").Str("job", job.Name()).Logger()
	return &Scheduler{
		interval: interval,
		timeout:  timeout,
		job:      job,
		log:      &lg,
		done:     make(chan struct{}),
	}
}

// Start launches the loop; a second Start while running is a no-op.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// RunOnce executes the job immediately with the configured timeout.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.job.Run(runCtx)
	if err != nil {
		metrics.IncJob(s.job.Name(), "error")
		s.log.Error().Err(err).Msg("job run failed")
		return
	}
	metrics.IncJob(s.job.Name(), "ok")
	if n > 0 {
		s.log.Info().Int("count", n).Msg("job run finished")
	}
}

// Stop cancels the loop and waits for it. Safe to call when not started.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
}
