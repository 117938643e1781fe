// Package scheduler implements the rotation calendar scan loop described
// in spec.md §4.3: partition due/warning/overdue entries on each tick,
// dispatch due rotations through the Rotation Engine subject to a
// concurrency cap and an approval gate, and auto-schedule the next entry
// once a rotation completes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/signctl/internal/config"
	"github.com/systmms/signctl/internal/logging"
	"github.com/systmms/signctl/internal/metrics"
	"github.com/systmms/signctl/internal/notify"
	"github.com/systmms/signctl/internal/store"
)

// RotationTrigger is the narrow slice of rotationengine.Engine the
// scheduler drives, kept as a local interface so this package never
// imports internal/rotationengine. The engine in turn reaches the
// scheduler only through its own rotationengine.NewScheduler interface,
// which Scheduler.ScheduleNext satisfies, so neither package imports the
// other.
type RotationTrigger interface {
	PlanRotation(ctx context.Context, tenantID string, scheduledTime time.Time, emergency bool) (string, error)
	ExecuteRotation(ctx context.Context, rotationID string) error
}

// Status is a point-in-time snapshot of the scheduler's last tick,
// returned by the status endpoint spec.md §4.3 calls for.
type Status struct {
	Running        bool
	LastCheck      time.Time
	NextCheck      time.Time
	ActiveCount    int
	DueCount       int
	WarningCount   int
	OverdueCount   int
	TenantCount    int
}

// Scheduler runs the periodic calendar scan.
type Scheduler struct {
	store   store.Store
	engine  RotationTrigger
	notify  *notify.Manager
	cfg     config.SchedulerConfig
	log     *logging.Logger

	mu         sync.Mutex
	active     map[string]struct{} // rotation IDs currently executing
	warnedOn   map[string]string   // tenant id -> date string of last warning sent
	lastStatus Status

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler. notifier may be nil.
func NewScheduler(st store.Store, engine RotationTrigger, notifier *notify.Manager, cfg config.SchedulerConfig, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		store:    st,
		engine:   engine,
		notify:   notifier,
		cfg:      cfg,
		log:      log,
		active:   make(map[string]struct{}),
		warnedOn: make(map[string]string),
	}
}

// Start begins the background scan loop.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := time.Duration(s.cfg.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	s.mu.Lock()
	s.lastStatus.Running = true
	s.mu.Unlock()

	go s.loop(loopCtx, interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.mu.Lock()
	s.lastStatus.Running = false
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// partition buckets a tenant's calendar entries relative to now.
type partition struct {
	due      []*store.CalendarEntry
	warning  []*store.CalendarEntry
	overdue  []*store.CalendarEntry
}

// Tick runs one scan-and-dispatch pass. Exported so tests and an operator
// endpoint can drive a deterministic pass without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()

	entries, err := s.store.ListCalendarEntries(ctx)
	if err != nil {
		s.log.Errorw("scheduler failed to list calendar entries", "error", err)
		return
	}

	windowDays := s.cfg.RotationWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	warningDays := s.cfg.AdvanceWarningDays
	if warningDays <= 0 {
		warningDays = 14
	}

	part := partition{}
	tenants := make(map[string]struct{})
	nonTerminal := make(map[string]struct{})
	for _, e := range entries {
		if e.IsTerminal() {
			continue
		}
		nonTerminal[e.TenantID] = struct{}{}

		if e.Status == store.CalendarStatusInProgress {
			continue
		}
		tenants[e.TenantID] = struct{}{}

		untilDue := time.Until(e.DueAt)
		switch {
		case untilDue < 0:
			part.overdue = append(part.overdue, e)
		case untilDue <= time.Duration(windowDays)*24*time.Hour:
			part.due = append(part.due, e)
		case untilDue <= time.Duration(warningDays)*24*time.Hour:
			part.warning = append(part.warning, e)
		}
	}

	for _, e := range part.overdue {
		s.log.WithTenant(e.TenantID).Warnw("rotation overdue", "due_at", e.DueAt, "key_id", e.KeyID)
		s.publish(notify.EventTypeStarted, e, "rotation is overdue")
	}

	for _, e := range part.warning {
		s.maybeWarnOnce(e)
	}

	dispatchable := append(append([]*store.CalendarEntry{}, part.overdue...), part.due...)
	for _, e := range dispatchable {
		s.dispatch(ctx, e)
	}

	s.seedMissingCalendarEntries(ctx, nonTerminal)

	s.mu.Lock()
	s.lastStatus.LastCheck = start
	s.lastStatus.NextCheck = start.Add(time.Duration(s.cfg.CheckIntervalSeconds) * time.Second)
	s.lastStatus.ActiveCount = len(s.active)
	s.lastStatus.DueCount = len(part.due)
	s.lastStatus.WarningCount = len(part.warning)
	s.lastStatus.OverdueCount = len(part.overdue)
	s.lastStatus.TenantCount = len(tenants)
	s.mu.Unlock()

	metrics.RecordSchedulerTick(len(part.due), len(part.warning), len(part.overdue), len(tenants), time.Since(start).Seconds())
}

// seedMissingCalendarEntries implements spec.md §4.3 step 6: every tenant
// with a policy but no non-terminal calendar entry gets one inserted at
// now + rotate_every_days. nonTerminal is the set of tenants already
// holding a non-terminal entry, gathered by the caller's partition pass.
func (s *Scheduler) seedMissingCalendarEntries(ctx context.Context, nonTerminal map[string]struct{}) {
	tenantIDs, err := s.store.ListTenants(ctx)
	if err != nil {
		s.log.Errorw("scheduler failed to list tenants", "error", err)
		return
	}

	for _, tenantID := range tenantIDs {
		if _, ok := nonTerminal[tenantID]; ok {
			continue
		}

		p, err := s.store.GetPolicy(ctx, tenantID)
		if err != nil {
			continue
		}
		if p.Key.KeyID == "" {
			continue
		}

		rotateEveryDays := p.Key.RotateEveryDays
		if rotateEveryDays <= 0 {
			rotateEveryDays = 90
		}

		next := time.Now().AddDate(0, 0, rotateEveryDays)
		if err := s.ScheduleNext(ctx, tenantID, p.Key.KeyID, next); err != nil {
			s.log.WithTenant(tenantID).Errorw("failed to seed calendar entry", "error", err)
		}
	}
}

// maybeWarnOnce sends the advance-warning notification at most once per
// calendar day per tenant, matching spec.md §4.3's "idempotent, once per
// day" requirement.
func (s *Scheduler) maybeWarnOnce(e *store.CalendarEntry) {
	today := time.Now().UTC().Format("2006-01-02")

	s.mu.Lock()
	last, ok := s.warnedOn[e.TenantID]
	if ok && last == today {
		s.mu.Unlock()
		return
	}
	s.warnedOn[e.TenantID] = today
	s.mu.Unlock()

	s.log.WithTenant(e.TenantID).Infow("rotation due soon", "due_at", e.DueAt, "key_id", e.KeyID)
	s.publish(notify.EventTypeStarted, e, "rotation due within the advance warning window")
}

// dispatch attempts to run e through the Rotation Engine, honoring the
// concurrency cap and the approval gate.
func (s *Scheduler) dispatch(ctx context.Context, e *store.CalendarEntry) {
	maxConcurrent := s.cfg.MaxConcurrentRotations
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	s.mu.Lock()
	if len(s.active) >= maxConcurrent {
		s.mu.Unlock()
		s.log.WithTenant(e.TenantID).Warnw("scheduler at max concurrent rotations, deferring", "key_id", e.KeyID)
		return
	}
	s.mu.Unlock()

	if e.ApprovalRequired && !s.cfg.AutoApproveRotations {
		s.log.WithTenant(e.TenantID).Infow("rotation requires approval, skipping auto-dispatch", "key_id", e.KeyID)
		return
	}

	e.Status = store.CalendarStatusInProgress
	if err := s.store.UpsertCalendarEntry(ctx, e); err != nil {
		s.log.WithTenant(e.TenantID).Errorw("failed to mark calendar entry in progress", "error", err)
		return
	}

	rotationID, err := s.engine.PlanRotation(ctx, e.TenantID, e.DueAt, false)
	if err != nil {
		s.log.WithTenant(e.TenantID).Errorw("failed to plan rotation", "error", err)
		e.Status = store.CalendarStatusScheduled
		_ = s.store.UpsertCalendarEntry(ctx, e)
		return
	}

	metrics.RecordRotationStarted(e.TenantID, false)

	s.mu.Lock()
	s.active[rotationID] = struct{}{}
	s.mu.Unlock()

	go func() {
		runCtx := context.Background()
		execErr := s.engine.ExecuteRotation(runCtx, rotationID)
		if execErr != nil {
			s.log.WithTenant(e.TenantID).WithRotation(rotationID).Errorw("scheduled rotation failed", "error", execErr)
		}
		s.mu.Lock()
		delete(s.active, rotationID)
		s.mu.Unlock()
	}()
}

// ScheduleNext implements rotationengine.NewScheduler: it records the
// tenant's next rotation calendar entry, auto-inserted after a
// successful completion (spec.md §4.2's "auto-schedule the next
// rotation").
func (s *Scheduler) ScheduleNext(ctx context.Context, tenantID, keyID string, next time.Time) error {
	entry := &store.CalendarEntry{
		TenantID:            tenantID,
		KeyID:               keyID,
		DueAt:               next,
		RotationWindowStart: next.Add(-time.Duration(s.cfg.RotationWindowDays) * 24 * time.Hour),
		RotationWindowEnd:   next,
		ApprovalRequired:    !s.cfg.AutoApproveRotations,
		Status:              store.CalendarStatusScheduled,
	}
	return s.store.UpsertCalendarEntry(ctx, entry)
}

// GetStatus returns the scheduler's last-tick snapshot.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

func (s *Scheduler) publish(t notify.EventType, e *store.CalendarEntry, detail string) {
	if s.notify == nil {
		return
	}
	s.notify.Send(notify.Event{
		Type:      t,
		TenantID:  e.TenantID,
		KeyID:     e.KeyID,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"detail": detail},
	})
}
