package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwehrli/carillon/internal/holidays"
	"github.com/mwehrli/carillon/internal/store"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *fakePlayer) PlayScheduled(filename, deviceName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, filename)
	return nil
}

func (p *fakePlayer) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// crossDaySnapshot: Friday has its last bell at 16:30, the weekend is
// unplanned, Monday is "Standard" starting 08:00 with bell.mp3.
func crossDaySnapshot() store.Snapshot {
	return store.Snapshot{
		DayTypes: map[string]store.DayType{
			"Standard": {Name: "Standard", Periods: []store.Period{
				{Name: "P1", Start: "08:00:00", End: "08:55:00", SoundStart: "bell.mp3"},
			}},
			"Friday": {Name: "Friday", Periods: []store.Period{
				{Name: "P1", Start: "15:30:00", End: "16:30:00", SoundStart: "bell.mp3", SoundEnd: "end.mp3"},
			}},
		},
		WeeklyPlan: store.WeeklyPlan{
			"Lundi":    "Standard",
			"Vendredi": "Friday",
			"Samedi":   store.NoDayType,
			"Dimanche": store.NoDayType,
		},
		Exceptions: map[string]store.Exception{},
	}
}

func newTestScheduler(t *testing.T, snapshot store.Snapshot, now time.Time) (*Scheduler, *fakePlayer) {
	t.Helper()
	player := &fakePlayer{}
	resolver := holidays.NewResolver(t.TempDir(), nil)
	s := New(snapshot, resolver, player, DefaultLookaheadDays, nil)
	s.now = func() time.Time { return now }
	s.running = true
	return s, player
}

func TestIterate_CrossDayNextEventDiscovery(t *testing.T) {
	// Friday 2025-06-13 17:00:00, after the day's last bell. The search must
	// cross Saturday and Sunday without terminating early and land on
	// Monday's first bell.
	now := time.Date(2025, time.June, 13, 17, 0, 0, 0, time.Local)
	s, player := newTestScheduler(t, crossDaySnapshot(), now)

	require.NoError(t, s.iterate())

	require.Equal(t, "2025-06-16T08:00:00", s.NextRingInstantISO()[:19])
	require.Equal(t, "Début P1", s.NextRingLabel())
	require.Empty(t, player.all())

	s.mu.Lock()
	require.Equal(t, "bell.mp3", s.nextRing.Sound)
	s.mu.Unlock()
}

func TestIterate_EventAtNowFiresInclusive(t *testing.T) {
	now := time.Date(2025, time.June, 13, 15, 30, 0, 0, time.Local)
	s, player := newTestScheduler(t, crossDaySnapshot(), now)

	require.NoError(t, s.iterate())

	require.Equal(t, []string{"bell.mp3"}, player.all())
	// After dispatch the next ring moved to the end-of-period bell.
	require.Equal(t, "Fin P1", s.NextRingLabel())
}

func TestIterate_SilentEventAdvancesWithoutPlaying(t *testing.T) {
	snapshot := crossDaySnapshot()
	snapshot.DayTypes["Friday"] = store.DayType{Name: "Friday", Periods: []store.Period{
		{Name: "P1", Start: "15:30:00", End: "16:30:00"},
	}}
	now := time.Date(2025, time.June, 13, 15, 30, 0, 0, time.Local)
	s, player := newTestScheduler(t, snapshot, now)

	require.NoError(t, s.iterate())

	require.Empty(t, player.all())
	require.Equal(t, "Fin P1", s.NextRingLabel())
}

func TestAbsoluteNextEvent_LookaheadBoundary(t *testing.T) {
	snapshot := crossDaySnapshot()
	resolver := holidays.NewResolver(t.TempDir(), nil)
	player := &fakePlayer{}

	// Saturday 2025-06-14 as start: Monday is at offset 2.
	start := time.Date(2025, time.June, 14, 0, 0, 0, 0, time.Local)

	s := New(snapshot, resolver, player, 2, nil)
	require.Nil(t, s.absoluteNextEvent(start, snapshot, resolver))

	s = New(snapshot, resolver, player, 3, nil)
	event := s.absoluteNextEvent(start, snapshot, resolver)
	require.NotNil(t, event)
	require.Equal(t, "Début P1", event.Label)
	require.Equal(t, "2025-06-16", event.Instant.Format("2006-01-02"))
}

func TestAbsoluteNextEvent_SkipsSilenceExceptionDays(t *testing.T) {
	snapshot := crossDaySnapshot()
	snapshot.Exceptions["2025-06-16"] = store.Exception{Action: store.ExceptionSilence, Description: "Pont"}
	resolver := holidays.NewResolver(t.TempDir(), nil)
	s := New(snapshot, resolver, &fakePlayer{}, DefaultLookaheadDays, nil)

	start := time.Date(2025, time.June, 14, 0, 0, 0, 0, time.Local)
	event := s.absoluteNextEvent(start, snapshot, resolver)

	require.NotNil(t, event)
	// Monday silenced: the walk continues to the next planned day, Friday.
	require.Equal(t, "2025-06-20", event.Instant.Format("2006-01-02"))
}

func TestReloadConfig_NextEventFollowsNewConfig(t *testing.T) {
	now := time.Date(2025, time.June, 13, 17, 0, 0, 0, time.Local)
	s, _ := newTestScheduler(t, crossDaySnapshot(), now)
	require.NoError(t, s.iterate())
	require.Equal(t, "2025-06-16", s.NextRingInstantISO()[:10])

	// New config: Saturday gets a schedule starting 18:00.
	updated := crossDaySnapshot()
	updated.DayTypes["Samedi matin"] = store.DayType{Name: "Samedi matin", Periods: []store.Period{
		{Name: "Étude", Start: "18:00:00", End: "19:00:00", SoundStart: "study.mp3"},
	}}
	updated.WeeklyPlan["Samedi"] = "Samedi matin"
	s.ReloadConfig(updated, nil)

	require.Empty(t, s.NextRingInstantISO())
	require.NoError(t, s.iterate())
	require.Equal(t, "2025-06-14", s.NextRingInstantISO()[:10])
	require.Equal(t, "Début Étude", s.NextRingLabel())
}

func TestStopClearsNextRing(t *testing.T) {
	now := time.Date(2025, time.June, 13, 17, 0, 0, 0, time.Local)
	s, _ := newTestScheduler(t, crossDaySnapshot(), now)
	require.NoError(t, s.iterate())
	require.NotEmpty(t, s.NextRingInstantISO())

	s.Stop()

	require.False(t, s.IsActive())
	require.Empty(t, s.NextRingInstantISO())
	require.Empty(t, s.NextRingLabel())
}

func TestSleepDuration_Clamped(t *testing.T) {
	now := time.Date(2025, time.June, 13, 17, 0, 0, 0, time.Local)
	s, _ := newTestScheduler(t, crossDaySnapshot(), now)

	// No next ring: one-second poll.
	require.Equal(t, time.Second, s.sleepDuration())

	require.NoError(t, s.iterate())
	// Next ring far away: still capped at one second.
	require.Equal(t, time.Second, s.sleepDuration())

	// Next ring imminent: floor of 50 ms.
	s.mu.Lock()
	s.nextRing = &Event{Instant: now.Add(20 * time.Millisecond)}
	s.mu.Unlock()
	require.Equal(t, 50*time.Millisecond, s.sleepDuration())

	// In the clamp window the margin is subtracted.
	s.mu.Lock()
	s.nextRing = &Event{Instant: now.Add(500 * time.Millisecond)}
	s.mu.Unlock()
	require.Equal(t, 450*time.Millisecond, s.sleepDuration())
}

func TestScheduleForDate(t *testing.T) {
	now := time.Date(2025, time.June, 13, 9, 0, 0, 0, time.Local)
	s, _ := newTestScheduler(t, crossDaySnapshot(), now)

	sched := s.ScheduleForDate(time.Date(2025, time.June, 16, 0, 0, 0, 0, time.Local))
	require.Equal(t, "Classe (Standard)", sched.DayType)
	require.Len(t, sched.Schedule, 2)
	require.Equal(t, "08:00:00", sched.Schedule[0].Time)
	require.Equal(t, "bell.mp3", sched.Schedule[0].Sound)
	require.Equal(t, "Silence", sched.Schedule[1].Sound)

	weekend := s.ScheduleForDate(time.Date(2025, time.June, 14, 0, 0, 0, 0, time.Local))
	require.Equal(t, "Weekend", weekend.DayType)
	require.Empty(t, weekend.Schedule)
}

func TestRunLoop_StartStopShutdown(t *testing.T) {
	snapshot := crossDaySnapshot()
	resolver := holidays.NewResolver(t.TempDir(), nil)
	s := New(snapshot, resolver, &fakePlayer{}, DefaultLookaheadDays, nil)

	go s.Run()
	s.Start()
	require.Eventually(t, func() bool { return s.NextRingInstantISO() != "" },
		2*time.Second, 10*time.Millisecond)

	s.Shutdown()
	require.False(t, s.IsActive())
}
