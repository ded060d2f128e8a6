package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/shaneisley/acqsched/pkg/config"
	"github.com/shaneisley/acqsched/pkg/eventqueue"
	"github.com/shaneisley/acqsched/pkg/logging"
	"github.com/shaneisley/acqsched/pkg/metrics"
	"github.com/shaneisley/acqsched/pkg/monitoring"
	"github.com/shaneisley/acqsched/pkg/process"
	"github.com/shaneisley/acqsched/pkg/schedule"
	"github.com/shaneisley/acqsched/pkg/storage"
)

// MaxSleep bounds how long the loop sleeps between iterations.
const MaxSleep = time.Second

// Controller drives the acquisition process.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pid() int
}

// Journal records fired events.
type Journal interface {
	Record(entry storage.Entry) error
}

// Daemon runs the acquisition schedule on a single background goroutine
type Daemon struct {
	config     *config.Config
	controller Controller
	journal    Journal
	notifier   Notifier
	watchdog   time.Duration
	queue      *eventqueue.Queue
	guard      *schedule.Guard
	counters   *metrics.Counters
	logger     *logging.Logger
	monitor    *monitoring.ResourceMonitor
	now        func() time.Time
	runID      string

	alive     atomic.Bool
	lifecycle sync.Mutex
	wake      chan struct{}
	done      chan struct{}

	rebuildMu    sync.Mutex
	scheduledDay string
	rewoundDay   string
	lastPing     time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithController replaces the default process controller
func WithController(c Controller) Option {
	return func(d *Daemon) { d.controller = c }
}

// WithJournal records every fired event to j
func WithJournal(j Journal) Option {
	return func(d *Daemon) { d.journal = j }
}

// WithNotifier replaces the default service manager notifier
func WithNotifier(n Notifier) Option {
	return func(d *Daemon) { d.notifier = n }
}

// WithWatchdog sends a watchdog keep-alive at least every interval/2
func WithWatchdog(interval time.Duration) Option {
	return func(d *Daemon) { d.watchdog = interval }
}

// WithLogger replaces the default logger
func WithLogger(l *logging.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// WithMonitor replaces the default resource monitor
func WithMonitor(m *monitoring.ResourceMonitor) Option {
	return func(d *Daemon) { d.monitor = m }
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("daemon requires a configuration")
	}

	d := &Daemon{
		config: cfg,
		guard:  schedule.NewGuard(cfg),
		now:    time.Now,
		runID:  uuid.NewString(),
	}
	for _, o := range opts {
		o(d)
	}

	if d.logger == nil {
		d.logger = logging.NewLogger("scheduler", logging.ParseLevel(cfg.Daemon.LogLevel))
	}
	if d.controller == nil {
		d.controller = process.NewController(cfg.Process,
			process.WithLogger(d.logger.WithComponent("process")))
	}
	if d.notifier == nil {
		d.notifier = NewSystemdNotifier(d.logger)
	}
	if d.monitor == nil {
		d.monitor = monitoring.NewResourceMonitor(monitoring.DefaultMaxMemoryMB, monitoring.DefaultMaxGoroutines)
	}
	d.counters = metrics.NewCounters(d.now())
	d.queue = eventqueue.New(d.onPanic)

	return d, nil
}

// Start starts the scheduling loop. Starting a running daemon does nothing.
func (d *Daemon) Start() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.alive.Load() {
		return nil
	}
	// A previous worker still finishing its last iteration must exit first.
	if d.done != nil {
		<-d.done
	}

	if err := d.writePidFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.wake = make(chan struct{})
	d.done = make(chan struct{})
	d.alive.Store(true)
	go d.run(d.wake, d.done)

	d.notifier.Notify("READY=1")
	return nil
}

// Stop asks the loop to exit after its current iteration. An acquisition
// start or stop in progress is not interrupted.
func (d *Daemon) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.alive.Swap(false) {
		return
	}
	close(d.wake)
	d.notifier.Notify("STOPPING=1")
}

// Join waits for the loop to exit. A timeout of zero waits forever. It
// reports whether the loop has exited.
func (d *Daemon) Join(timeout time.Duration) bool {
	d.lifecycle.Lock()
	done := d.done
	d.lifecycle.Unlock()

	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Wait waits for the daemon to finish
func (d *Daemon) Wait() {
	d.Join(0)
}

// IsAlive reports whether the loop goroutine is running
func (d *Daemon) IsAlive() bool {
	d.lifecycle.Lock()
	done := d.done
	d.lifecycle.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Counters returns a snapshot of the scheduler's activity
func (d *Daemon) Counters() metrics.Snapshot {
	return d.counters.Snapshot()
}

// RunID identifies this daemon instance in the journal
func (d *Daemon) RunID() string {
	return d.runID
}

// Pending returns the number of queued events
func (d *Daemon) Pending() int {
	return d.queue.Len()
}

func (d *Daemon) run(wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer d.removePidFile()

	d.logger.Info("scheduler running", "run_id", d.runID)
	d.loop(wake)

	s := d.counters.Snapshot()
	d.logger.Info("scheduler stopped",
		"begins", s.Begins,
		"ends", s.Ends,
		"suppressed", s.Suppressed,
		"failures", s.Failures)
}

// loop ticks until its own wake channel is closed.
func (d *Daemon) loop(wake <-chan struct{}) {
	for {
		select {
		case <-wake:
			return
		default:
		}

		timer := time.NewTimer(d.tick())
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
			return
		}
	}
}

// tick runs one loop iteration and returns how long to sleep.
func (d *Daemon) tick() time.Duration {
	now := d.now()

	d.safely("rebuild", func() { d.rebuild(now) })
	delay, ok := d.queue.RunPending(now)
	d.ping(now)

	if !ok || delay > MaxSleep {
		return MaxSleep
	}
	return delay
}

// rebuild schedules today's events. It runs at most once per calendar date
// and only for dates after the last one built; events left over from earlier
// days are discarded, never caught up.
func (d *Daemon) rebuild(now time.Time) {
	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()

	// DateOnly strings order the same as the dates they name.
	day := now.Format(time.DateOnly)
	if day <= d.scheduledDay {
		if day < d.scheduledDay && day != d.rewoundDay {
			d.rewoundDay = day
			d.logger.Warn("clock moved back to an earlier date, keeping the current schedule",
				"day", day,
				"scheduled_day", d.scheduledDay)
		}
		return
	}
	d.scheduledDay = day
	d.rewoundDay = ""
	d.checkResources()

	year, month, date := now.Date()
	dropped := d.queue.DropBefore(time.Date(year, month, date, 0, 0, 0, 0, now.Location()))
	if dropped > 0 {
		d.logger.Warn("dropped stale events from a previous day", "count", dropped)
	}

	leg, ok := schedule.ActiveLeg(d.config.Legs, now)
	if !ok {
		d.counters.RecordRebuild(0, dropped)
		d.logger.Info("no acquisition scheduled today", "day", day)
		return
	}

	events := schedule.Build(d.config, now)
	for _, ev := range events {
		d.queue.Enter(ev.FireAt, ev.Priority, func() { d.handle(ev) })
		if ev.Action == schedule.BeginAcquisition {
			d.logger.LogWindow(ev.Bound, ev.Bound.Add(d.config.AcquisitionLength))
		}
	}

	windows := len(events) / 2
	d.counters.RecordRebuild(windows, dropped)
	d.logger.Info("scheduled acquisitions for today",
		"day", day,
		"leg", leg.Name,
		"count", windows)
	d.notifier.Notify(fmt.Sprintf("STATUS=%d acquisition(s) scheduled for %s", windows, day))
}

// handle runs a fired event after checking it against the configured offsets.
func (d *Daemon) handle(ev schedule.Event) {
	entry := storage.Entry{
		RunID:     d.runID,
		Action:    ev.Action.String(),
		BoundTime: ev.Bound,
		FiredAt:   d.now(),
		Outcome:   storage.OutcomeOK,
	}

	if !d.guard.Accept(ev.Action, ev.Bound) {
		deviation := d.guard.Deviation(ev.Action, ev.Bound)
		d.logger.LogSuppressed(ev.Action.String(), ev.Bound, deviation)
		d.counters.RecordSuppressed()
		entry.Outcome = storage.OutcomeSuppressed
		entry.Detail = "deviation " + deviation.String()
		d.record(entry)
		return
	}

	ctx := context.Background()
	var err error
	switch ev.Action {
	case schedule.BeginAcquisition:
		err = d.controller.Start(ctx)
		entry.Pid = d.controller.Pid()
		d.counters.RecordBegin()
	case schedule.EndAcquisition:
		entry.Pid = d.controller.Pid()
		err = d.controller.Stop(ctx)
		d.counters.RecordEnd()
	}

	if err != nil {
		d.logger.LogError(ev.Action.String()+"_acquisition", err,
			"bound_time", ev.Bound.Format(time.RFC3339))
		d.counters.RecordFailure()
		entry.Outcome = storage.OutcomeFailed
		entry.Detail = err.Error()
	}
	d.record(entry)
	d.notifier.Notify("STATUS=" + d.counters.Snapshot().Status())
}

// checkResources logs the daemon's own footprint once a day.
func (d *Daemon) checkResources() {
	snapshot := d.monitor.GetSnapshot()
	args := []any{
		"alloc_mb", snapshot.AllocMB,
		"goroutines", snapshot.NumGoroutine,
		"memory_growth_mb", d.monitor.MemoryGrowth(snapshot),
		"goroutine_growth", d.monitor.GoroutineGrowth(snapshot),
	}
	if err := d.monitor.CheckLimits(snapshot); err != nil {
		d.logger.Warn("resource usage above limit", append(args, "error", err.Error())...)
		return
	}
	d.logger.Debug("resource usage", args...)
}

func (d *Daemon) record(entry storage.Entry) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(entry); err != nil {
		d.logger.LogError("journal", err)
	}
}

func (d *Daemon) ping(now time.Time) {
	if d.watchdog <= 0 || now.Sub(d.lastPing) < d.watchdog/2 {
		return
	}
	d.lastPing = now
	d.notifier.Notify("WATCHDOG=1")
}

func (d *Daemon) safely(operation string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.counters.RecordPanic()
			d.logger.Error("recovered from panic", "operation", operation, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (d *Daemon) onPanic(at time.Time, recovered interface{}) {
	d.counters.RecordPanic()
	d.logger.Error("recovered from panic in scheduled event",
		"fire_at", at.Format(time.RFC3339),
		"panic", fmt.Sprint(recovered))
}

// writePidFile records this process's pid, creating the directory as needed.
func (d *Daemon) writePidFile() error {
	path := d.config.Daemon.PidFile
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (d *Daemon) removePidFile() {
	path := d.config.Daemon.PidFile
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.LogError("remove_pid_file", err, "path", path)
	}
}

// IsRunning reads pidFile and checks the named process with signal 0. A
// missing file means not running; a pid that no longer exists is returned
// with running false so callers can report a stale file.
func IsRunning(pidFile string) (bool, int, error) {
	if pidFile == "" {
		return false, 0, nil
	}

	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0, fmt.Errorf("invalid PID file format: %q", strings.TrimSpace(string(data)))
	}

	// EPERM still means the process exists.
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false, pid, nil
	}
	return true, pid, nil
}
