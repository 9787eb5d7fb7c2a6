// Package scheduler owns the background side of the bridge: the applier
// consumer loop and the periodic jobs (sweep, counter flush, backup).
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayBridge/internal/pkg/applier"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
)

const (
	counterFlushInterval  = 5 * time.Second
	scheduleCheckInterval = 15 * time.Second
	jobTimeout            = 2 * time.Minute
)

// Flusher drains outcome counters into the database.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// BackupRunner writes one database snapshot.
type BackupRunner interface {
	Backup(ctx context.Context) (string, error)
}

type Options struct {
	Bridge        *bridge.Bridge
	Applier       *applier.Applier
	Sweeper       *applier.Sweeper
	SweepInterval func() time.Duration
	DrainTimeout  func() time.Duration
	// Counter and Backup are optional.
	Counter Flusher
	Backup  BackupRunner
	// BackupAt is the UTC hour of the daily snapshot.
	BackupAt uint
}

// Manager starts and stops the background tasks.
type Manager struct {
	opts Options

	mu          sync.Mutex
	running     bool
	scheduler   gocron.Scheduler
	sweepJob    gocron.Job
	sweepEvery  time.Duration
	cancel      context.CancelFunc
	applierDone chan struct{}

	sweepMu   sync.Mutex
	refreshMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	if opts.SweepInterval == nil {
		opts.SweepInterval = func() time.Duration { return time.Minute }
	}
	if opts.DrainTimeout == nil {
		opts.DrainTimeout = func() time.Duration { return 10 * time.Second }
	}
	return &Manager{opts: opts}
}

// Start launches the applier loop and the scheduled jobs. The first sweep
// runs immediately, which recovers transactions left over from the last run.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	log.Info("[Scheduler] Starting applier and background jobs")

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}

	sweepEvery := m.opts.SweepInterval()
	sweepJob, err := s.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(m.runSweep),
		gocron.WithName("sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	_, err = s.NewJob(
		gocron.DurationJob(scheduleCheckInterval),
		gocron.NewTask(m.refreshSchedule),
		gocron.WithName("schedule-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	if m.opts.Counter != nil {
		_, err = s.NewJob(
			gocron.DurationJob(counterFlushInterval),
			gocron.NewTask(m.runCounterFlush),
			gocron.WithName("counter-flush"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}

	if m.opts.Backup != nil {
		_, err = s.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(m.opts.BackupAt%24, 0, 0))),
			gocron.NewTask(m.runBackup),
			gocron.WithName("db-snapshot"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.applierDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := m.opts.Applier.Run(ctx, m.opts.Bridge); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("[Scheduler] Applier stopped: %v", err)
		}
	}(m.applierDone)

	s.Start()
	m.scheduler = s
	m.sweepJob = sweepJob
	m.sweepEvery = sweepEvery
	m.running = true
	log.Infof("[Scheduler] Started (sweep every %s)", sweepEvery)
	return nil
}

// Stop halts the jobs, closes the bridge and lets the applier drain queued
// events until the drain timeout. Undrained events stay unnotified in the
// store and are picked up by the first sweep after restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Scheduler] Stopping background jobs...")

	if err := m.scheduler.Shutdown(); err != nil {
		log.Warnf("[Scheduler] Shutdown: %v", err)
	}

	m.opts.Bridge.Close()
	timeout := m.opts.DrainTimeout()
	select {
	case <-m.applierDone:
	case <-time.After(timeout):
		log.Warnf("[Scheduler] Applier did not drain within %s, %d events left for the next sweep", timeout, m.opts.Bridge.Len())
		m.cancel()
		<-m.applierDone
	}
	m.cancel()

	if m.opts.Counter != nil {
		m.runCounterFlush()
	}

	m.running = false
	log.Info("[Scheduler] Stopped successfully")
}

// RefreshSchedule moves the sweep job to the current sweep interval setting.
// It reports whether the job was rescheduled.
func (m *Manager) RefreshSchedule() (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// m.mu is not held across Update: Stop holds it while the scheduler
	// waits for this job to return.
	m.mu.Lock()
	running, s, job, current := m.running, m.scheduler, m.sweepJob, m.sweepEvery
	m.mu.Unlock()
	if !running {
		return false, nil
	}
	every := m.opts.SweepInterval()
	if every <= 0 || every == current {
		return false, nil
	}
	updated, err := s.Update(
		job.ID(),
		gocron.DurationJob(every),
		gocron.NewTask(m.runSweep),
		gocron.WithName("sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return false, err
	}
	log.Infof("[Scheduler] Sweep interval changed from %s to %s", current, every)

	m.mu.Lock()
	m.sweepJob = updated
	m.sweepEvery = every
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) refreshSchedule() {
	if _, err := m.RefreshSchedule(); err != nil {
		log.Errorf("[Scheduler] Rescheduling sweep failed: %v", err)
	}
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TriggerSweep runs a sweep now and returns how many transactions were
// re-enqueued.
func (m *Manager) TriggerSweep(ctx context.Context) (int, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	return m.opts.Sweeper.SweepOnce(ctx)
}

func (m *Manager) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := m.TriggerSweep(ctx); err != nil {
		log.Errorf("[Sweep] %v", err)
	}
}

func (m *Manager) runCounterFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if n, err := m.opts.Counter.Flush(ctx); err != nil {
		log.Debugf("[Scheduler] Counter flush skipped: %v", err)
	} else if n > 0 {
		log.Debugf("[Scheduler] Flushed %d outcome counters", n)
	}
}

func (m *Manager) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := m.opts.Backup.Backup(ctx); err != nil {
		log.Errorf("[S3Backup] Snapshot failed: %v", err)
	}
}
