package schedule

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/mwehrli/carillon/internal/store"
)

// EventKind distinguishes period-start from period-end bells.
type EventKind string

const (
	EventStart EventKind = "debut"
	EventEnd   EventKind = "fin"
)

// Event is one timed bell of a concrete day. Sound may be empty: the event
// is silent but still part of the timeline.
type Event struct {
	Instant time.Time `json:"time"`
	Label   string    `json:"label"`
	Kind    EventKind `json:"event_type"`
	Sound   string    `json:"sonnerie,omitempty"`
}

// ExpandDay produces the ordered bell events of a day type applied to a
// date. An unknown day-type name yields an empty list with a logged error;
// a time string that fails HH:MM:SS parsing drops that single event.
// Output is sorted ascending by instant, ties keeping input order.
func ExpandDay(date time.Time, dayTypeName string, dayTypes map[string]store.DayType, logger *log.Logger) []Event {
	if dayTypeName == "" {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	dayType, ok := dayTypes[dayTypeName]
	if !ok {
		logger.Printf("expand: day type %q not found for %s", dayTypeName, date.Format("2006-01-02"))
		return nil
	}

	var events []Event
	for _, period := range dayType.Periods {
		if period.Start != "" {
			if instant, err := combine(date, period.Start); err != nil {
				logger.Printf("expand: %q: invalid start time %q: %v", dayTypeName, period.Start, err)
			} else {
				events = append(events, Event{
					Instant: instant,
					Label:   fmt.Sprintf("Début %s", period.Name),
					Kind:    EventStart,
					Sound:   period.SoundStart,
				})
			}
		}
		if period.End != "" {
			if instant, err := combine(date, period.End); err != nil {
				logger.Printf("expand: %q: invalid end time %q: %v", dayTypeName, period.End, err)
			} else {
				events = append(events, Event{
					Instant: instant,
					Label:   fmt.Sprintf("Fin %s", period.Name),
					Kind:    EventEnd,
					Sound:   period.SoundEnd,
				})
			}
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Instant.Before(events[j].Instant)
	})
	return events
}

func combine(date time.Time, hms string) (time.Time, error) {
	clock, err := time.Parse("15:04:05", hms)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, date.Location()), nil
}
