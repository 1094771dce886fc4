// Package scheduler runs named recurring jobs (interval, daily, weekly)
// on a small worker pool. A job that is still running when its next tick
// fires is skipped, never stacked. Jobs are registered by name so a
// config reload can replace a schedule in place.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aiwatch/internal/config"
	"aiwatch/pkg/logx"
)

type Config struct {
	Workers    int
	Timezone   string
	JobTimeout time.Duration
}

const defaultJobTimeout = 10 * time.Minute

// jobState is shared between cron ticks of one job for overlap control.
type jobState struct {
	mu      sync.Mutex
	running bool
}

func (j *jobState) tryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *jobState) release() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

type jobDef struct {
	name  string
	spec  string
	run   func(ctx context.Context) error
	state *jobState
	entry cron.EntryID

	statMu  sync.Mutex
	runs    int
	lastRun time.Time
	lastErr string
}

func (d *jobDef) recordRun(at time.Time, err error) {
	d.statMu.Lock()
	defer d.statMu.Unlock()
	d.runs++
	d.lastRun = at
	if err != nil {
		d.lastErr = err.Error()
	} else {
		d.lastErr = ""
	}
}

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name    string
	Spec    string
	Running bool
	Runs    int
	LastRun time.Time
	LastErr string
}

type task struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *jobState
	def     *jobDef
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*jobDef

	queue  chan task
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   make(map[string]*jobDef),
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, 64)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		s.addCronLocked(d)
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers), logx.String("tz", loc.String()))
}

// Stop halts the cron loop and waits for in-flight jobs to finish. Jobs
// run on background-derived contexts, so network sends that are already
// underway complete instead of being torn down mid-delivery.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// AddInterval registers (or replaces) a job that runs every interval.
func (s *Service) AddInterval(name string, every time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", name)
	}
	return s.upsert(name, fmt.Sprintf("@every %s", every.String()), job)
}

// AddDaily registers (or replaces) a job that runs daily at HH:MM in the
// scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, job func(ctx context.Context) error) error {
	h, m, err := config.ParseHHMM(atHHMM)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	return s.upsert(name, fmt.Sprintf("%d %d * * *", m, h), job)
}

// AddWeekly registers (or replaces) a job that runs weekly on weekday at
// HH:MM in the scheduler timezone.
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, job func(ctx context.Context) error) error {
	h, m, err := config.ParseHHMM(atHHMM)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	return s.upsert(name, fmt.Sprintf("%d %d * * %d", m, h, int(weekday)), job)
}

// Remove unregisters a job by name. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return
	}
	if s.c != nil && d.entry != 0 {
		s.c.Remove(d.entry)
	}
	delete(s.defs, name)
}

// Snapshot reports the registered jobs and their last-run outcomes,
// sorted by name. Intended for logging and ops inspection.
func (s *Service) Snapshot() []JobStatus {
	s.mu.Lock()
	defs := make([]*jobDef, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(defs))
	for _, d := range defs {
		d.state.mu.Lock()
		running := d.state.running
		d.state.mu.Unlock()

		d.statMu.Lock()
		out = append(out, JobStatus{
			Name:    d.name,
			Spec:    d.spec,
			Running: running,
			Runs:    d.runs,
			LastRun: d.lastRun,
			LastErr: d.lastErr,
		})
		d.statMu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JobNames returns the registered job names, for reload diffing.
func (s *Service) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	return names
}

func (s *Service) upsert(name, spec string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.defs[name]; ok {
		if old.spec == spec {
			// Same schedule; keep the entry, swap the closure.
			old.run = job
			return nil
		}
		if s.c != nil && old.entry != 0 {
			s.c.Remove(old.entry)
		}
	}

	d := &jobDef{name: name, spec: spec, run: job, state: &jobState{}}
	s.defs[name] = d
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) addCronLocked(d *jobDef) error {
	entry, err := s.c.AddFunc(d.spec, func() { s.tick(d) })
	if err != nil {
		delete(s.defs, d.name)
		return fmt.Errorf("scheduler: job %q: %w", d.name, err)
	}
	d.entry = entry
	return nil
}

// tick dispatches one trigger of a job. The run closure is read under
// the service lock: upsert may swap it while ticks fire.
func (s *Service) tick(d *jobDef) {
	s.mu.Lock()
	run := d.run
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()
	s.enqueue(task{name: d.name, timeout: timeout, run: run, state: d.state, def: d})
}

func (s *Service) enqueue(t task) {
	// Overlap control: a job still running when its next tick fires is
	// skipped, and the slot is released by the worker when it finishes.
	if !t.state.tryAcquire() {
		s.log.Warn("job still running, skipping tick", logx.String("job", t.name))
		return
	}

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		t.state.release()
		return
	}
	select {
	case q <- t:
	default:
		t.state.release()
		s.log.Warn("queue full, dropping tick", logx.String("job", t.name))
	}
}

func (s *Service) worker(stopCh <-chan struct{}, queue <-chan task) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(t)
		}
	}
}

func (s *Service) execOne(t task) {
	defer t.state.release()

	// Jobs get their own context rather than the daemon's run context:
	// shutdown waits for them instead of cancelling half-sent messages.
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	start := time.Now()
	err := t.run(ctx)
	dur := time.Since(start)
	if t.def != nil {
		t.def.recordRun(start, err)
	}
	if err != nil {
		// No retry here: every job is periodic, the next tick covers it.
		s.log.Warn("job failed",
			logx.String("job", t.name), logx.Duration("dur", dur), logx.Err(err))
		return
	}
	s.log.Debug("job completed", logx.String("job", t.name), logx.Duration("dur", dur))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
