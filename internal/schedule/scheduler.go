package schedule

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mwehrli/carillon/internal/holidays"
	"github.com/mwehrli/carillon/internal/store"
)

// DefaultLookaheadDays bounds the absolute next-event search.
const DefaultLookaheadDays = 60

// Player dispatches a scheduled bell sound. Implementations must not block
// the scheduler loop beyond process-spawn time.
type Player interface {
	PlayScheduled(filename, deviceName string) error
}

// Scheduler owns the bell wake loop. It is Inactive until Start and keeps
// its goroutine alive until Shutdown; Stop only pauses dispatching.
type Scheduler struct {
	logger *log.Logger
	player Player

	mu          sync.Mutex
	snapshot    store.Snapshot
	resolver    *holidays.Resolver
	running     bool
	force       bool
	lastChecked string
	today       []Event
	todayInfo   holidays.DayInfo
	nextRing    *Event
	lastError   string

	lookaheadDays int
	now           func() time.Time

	stopCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler over an initial configuration snapshot.
func New(snapshot store.Snapshot, resolver *holidays.Resolver, player Player, lookaheadDays int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}
	return &Scheduler{
		logger:        logger,
		player:        player,
		snapshot:      snapshot,
		resolver:      resolver,
		lookaheadDays: lookaheadDays,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		wakeCh:        make(chan struct{}, 1),
	}
}

// ==========================================================================
// Lifecycle
// ==========================================================================

// Run executes the wake loop until Shutdown. Call in its own goroutine.
func (s *Scheduler) Run() {
	s.wg.Add(1)
	defer s.wg.Done()
	s.logger.Printf("scheduler loop started")

	for {
		select {
		case <-s.stopCh:
			s.logger.Printf("scheduler loop stopped")
			return
		default:
		}

		if !s.isRunningNow() {
			// Inactive: wait for activation, recheck, or shutdown.
			select {
			case <-s.stopCh:
				s.logger.Printf("scheduler loop stopped")
				return
			case <-s.wakeCh:
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := s.iterate(); err != nil {
			s.recordError(err)
			s.sleep(15 * time.Second)
			continue
		}
		s.sleep(s.sleepDuration())
	}
}

// Start activates bell dispatching.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Printf("scheduler already active")
		return
	}
	s.running = true
	s.lastError = ""
	s.force = true
	s.mu.Unlock()
	s.wake()
	s.logger.Printf("scheduler activated")
}

// Stop deactivates dispatching and clears the next-ring info. The loop
// goroutine stays alive.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Printf("scheduler already inactive")
		return
	}
	s.running = false
	s.nextRing = nil
	s.mu.Unlock()
	s.wake()
	s.logger.Printf("scheduler deactivated")
}

// Shutdown stops the loop goroutine, waiting up to 5 seconds.
func (s *Scheduler) Shutdown() {
	s.Stop()
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Printf("scheduler shutdown timed out")
	}
}

// ForceRecheck makes the next wake re-classify today and recompute the next
// event even if the calendar day has not changed.
func (s *Scheduler) ForceRecheck() {
	s.mu.Lock()
	s.force = true
	s.mu.Unlock()
	s.wake()
}

// ReloadConfig atomically swaps the configuration snapshot and resolver and
// forces a recheck, so no event is dispatched from a stale snapshot.
func (s *Scheduler) ReloadConfig(snapshot store.Snapshot, resolver *holidays.Resolver) {
	s.mu.Lock()
	s.snapshot = snapshot
	if resolver != nil {
		s.resolver = resolver
	}
	s.lastChecked = ""
	s.nextRing = nil
	s.force = true
	s.mu.Unlock()
	s.wake()
	s.logger.Printf("scheduler configuration reloaded")
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// ==========================================================================
// Loop body
// ==========================================================================

func (s *Scheduler) iterate() (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()

	now := s.now()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	snapshot := s.snapshot
	resolver := s.resolver
	needsRecheck := today != s.lastChecked || s.force
	s.mu.Unlock()

	if needsRecheck {
		info := resolver.Classify(dateOf(now), snapshot.WeeklyPlan, snapshot.Exceptions)
		events := ExpandDay(dateOf(now), info.ScheduleName, snapshot.DayTypes, s.logger)

		next := firstEventAtOrAfter(events, now)
		if next == nil {
			next = s.absoluteNextEvent(dateOf(now).AddDate(0, 0, 1), snapshot, resolver)
		}

		s.mu.Lock()
		s.todayInfo = info
		s.today = events
		s.lastChecked = today
		s.force = false
		s.nextRing = next
		s.mu.Unlock()

		if next != nil {
			s.logger.Printf("next bell: %s at %s", next.Label, next.Instant.Format(time.RFC3339))
		} else {
			s.logger.Printf("no upcoming bell within %d days", s.lookaheadDays)
		}
	}

	s.mu.Lock()
	due := s.nextRing != nil && !now.Before(s.nextRing.Instant)
	var toRing Event
	if due {
		toRing = *s.nextRing
		next := firstEventAtOrAfter(s.today, now.Add(time.Second))
		if next == nil {
			next = s.absoluteNextEvent(dateOf(now).AddDate(0, 0, 1), s.snapshot, s.resolver)
		}
		s.nextRing = next
	}
	device := s.snapshot.Settings.AudioDeviceName
	s.mu.Unlock()

	if due {
		s.dispatch(toRing, device)
	}
	return nil
}

func (s *Scheduler) dispatch(event Event, device string) {
	if event.Sound == "" {
		s.logger.Printf("bell %q at %s: silent event", event.Label, event.Instant.Format("15:04:05"))
		return
	}
	s.logger.Printf("bell %q at %s: playing %s", event.Label, event.Instant.Format("15:04:05"), event.Sound)
	if err := s.player.PlayScheduled(event.Sound, device); err != nil {
		s.logger.Printf("bell %q: playback failed: %v", event.Label, err)
		s.recordError(err)
	}
}

// absoluteNextEvent walks forward day by day, classifying and expanding each
// date until an event is found or the lookahead limit is exhausted. Empty
// days (weekends, vacations, holidays, silence exceptions) must not stop the
// walk; the date advance is driven by the loop index so it cannot be skipped.
func (s *Scheduler) absoluteNextEvent(startDate time.Time, snapshot store.Snapshot, resolver *holidays.Resolver) *Event {
	for i := 0; i < s.lookaheadDays; i++ {
		day := startDate.AddDate(0, 0, i)
		info := resolver.Classify(day, snapshot.WeeklyPlan, snapshot.Exceptions)
		if info.ScheduleName == "" {
			continue
		}
		events := ExpandDay(day, info.ScheduleName, snapshot.DayTypes, s.logger)
		if len(events) > 0 {
			first := events[0]
			return &first
		}
	}
	return nil
}

func firstEventAtOrAfter(events []Event, from time.Time) *Event {
	for _, event := range events {
		if !event.Instant.Before(from) {
			found := event
			return &found
		}
	}
	return nil
}

func (s *Scheduler) sleepDuration() time.Duration {
	s.mu.Lock()
	next := s.nextRing
	s.mu.Unlock()
	if next == nil {
		return time.Second
	}
	until := next.Instant.Sub(s.now()) - 50*time.Millisecond
	if until < 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	if until > time.Second {
		return time.Second
	}
	return until
}

// sleep waits for the duration, cut short by Stop, Shutdown, or a recheck.
func (s *Scheduler) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-s.wakeCh:
	case <-time.After(d):
	}
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	s.lastError = fmt.Sprintf("%s: %v", s.now().Format("15:04:05"), err)
	s.mu.Unlock()
	s.logger.Printf("scheduler error: %v", err)
}

func (s *Scheduler) isRunningNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ==========================================================================
// Observables
// ==========================================================================

// IsActive reports whether bells are being dispatched.
func (s *Scheduler) IsActive() bool {
	return s.isRunningNow()
}

// NextRingInstantISO returns the next bell instant in RFC 3339, or "".
func (s *Scheduler) NextRingInstantISO() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRing == nil {
		return ""
	}
	return s.nextRing.Instant.Format(time.RFC3339)
}

// NextRingLabel returns the label of the next bell, or "".
func (s *Scheduler) NextRingLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRing == nil {
		return ""
	}
	return s.nextRing.Label
}

// LastError returns the most recent loop or playback error, or "".
func (s *Scheduler) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// DaySchedule is the API view of one date's timetable.
type DaySchedule struct {
	DayType  string             `json:"day_type"`
	Message  string             `json:"message,omitempty"`
	Schedule []DayScheduleEntry `json:"schedule"`
}

// DayScheduleEntry is one row of the API timetable.
type DayScheduleEntry struct {
	Time  string `json:"time"`
	Event string `json:"event"`
	Sound string `json:"sonnerie"`
}

// ScheduleForDate classifies a date and returns its timetable using the
// current configuration snapshot.
func (s *Scheduler) ScheduleForDate(date time.Time) DaySchedule {
	s.mu.Lock()
	snapshot := s.snapshot
	resolver := s.resolver
	s.mu.Unlock()

	info := resolver.Classify(date, snapshot.WeeklyPlan, snapshot.Exceptions)
	if info.ScheduleName == "" {
		return DaySchedule{DayType: info.Type, Message: info.Description, Schedule: []DayScheduleEntry{}}
	}
	events := ExpandDay(dateOf(date), info.ScheduleName, snapshot.DayTypes, s.logger)
	if len(events) == 0 {
		return DaySchedule{DayType: info.Type, Message: info.Description, Schedule: []DayScheduleEntry{}}
	}

	entries := make([]DayScheduleEntry, 0, len(events))
	for _, event := range events {
		sound := event.Sound
		if sound == "" {
			sound = "Silence"
		}
		entries = append(entries, DayScheduleEntry{
			Time:  event.Instant.Format("15:04:05"),
			Event: event.Label,
			Sound: sound,
		})
	}
	return DaySchedule{DayType: info.Type, Schedule: entries}
}
