package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwehrli/carillon/internal/store"
)

func testDayTypes() map[string]store.DayType {
	return map[string]store.DayType{
		"Standard": {Name: "Standard", Periods: []store.Period{
			{Name: "P2", Start: "09:00:00", End: "09:55:00", SoundStart: "bell.mp3", SoundEnd: "end.mp3"},
			{Name: "P1", Start: "08:00:00", End: "08:55:00", SoundStart: "bell.mp3"},
		}},
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestExpandDay_SortedByInstant(t *testing.T) {
	events := ExpandDay(day(2025, time.June, 16), "Standard", testDayTypes(), nil)

	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Instant.Before(events[i-1].Instant))
	}
	require.Equal(t, "Début P1", events[0].Label)
	require.Equal(t, "08:00:00", events[0].Instant.Format("15:04:05"))
	require.Equal(t, "Fin P2", events[3].Label)
}

func TestExpandDay_SilentEventStillListed(t *testing.T) {
	dayTypes := map[string]store.DayType{
		"Quiet": {Name: "Quiet", Periods: []store.Period{
			{Name: "Étude", Start: "10:00:00", End: "11:00:00"},
		}},
	}

	events := ExpandDay(day(2025, time.June, 16), "Quiet", dayTypes, nil)

	require.Len(t, events, 2)
	require.Empty(t, events[0].Sound)
	require.Empty(t, events[1].Sound)
}

func TestExpandDay_InvalidTimeDropsSingleEvent(t *testing.T) {
	dayTypes := map[string]store.DayType{
		"Broken": {Name: "Broken", Periods: []store.Period{
			{Name: "P1", Start: "8h00", End: "08:55:00", SoundStart: "a.mp3", SoundEnd: "b.mp3"},
		}},
	}

	events := ExpandDay(day(2025, time.June, 16), "Broken", dayTypes, nil)

	require.Len(t, events, 1)
	require.Equal(t, "Fin P1", events[0].Label)
}

func TestExpandDay_UnknownDayType(t *testing.T) {
	require.Empty(t, ExpandDay(day(2025, time.June, 16), "Ghost", testDayTypes(), nil))
	require.Empty(t, ExpandDay(day(2025, time.June, 16), "", testDayTypes(), nil))
}

func TestExpandDay_TiesKeepInputOrder(t *testing.T) {
	dayTypes := map[string]store.DayType{
		"Ties": {Name: "Ties", Periods: []store.Period{
			{Name: "A", Start: "08:00:00", End: "09:00:00"},
			{Name: "B", Start: "08:00:00", End: "10:00:00"},
		}},
	}

	events := ExpandDay(day(2025, time.June, 16), "Ties", dayTypes, nil)

	require.Equal(t, "Début A", events[0].Label)
	require.Equal(t, "Début B", events[1].Label)
}
