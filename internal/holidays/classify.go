package holidays

import (
	"fmt"
	"strings"
	"time"

	"github.com/mwehrli/carillon/internal/store"
)

// DayKind is the classification of a calendar date.
type DayKind string

const (
	KindExceptionSilence DayKind = "exception_silence"
	KindExceptionDayType DayKind = "exception_day_type"
	KindHoliday          DayKind = "holiday"
	KindVacation         DayKind = "vacation"
	KindClass            DayKind = "class"
	KindWeekend          DayKind = "weekend"
)

// DayInfo is the result of classifying a date: its kind, a display label,
// a human description, and the day-type name to expand (empty for silent
// days).
type DayInfo struct {
	Kind         DayKind
	Type         string
	Description  string
	ScheduleName string
}

// Classify determines what kind of day a date is. Precedence, strictly:
// exception > holiday > vacation > weekly plan > weekend.
func (r *Resolver) Classify(date time.Time, plan store.WeeklyPlan, exceptions map[string]store.Exception) DayInfo {
	iso := date.Format("2006-01-02")

	if exc, ok := exceptions[iso]; ok {
		return classifyException(exc)
	}

	if desc, ok := r.HolidayDescription(date); ok {
		return DayInfo{Kind: KindHoliday, Type: "Férié", Description: desc}
	}

	if vac, ok := r.VacationInfo(date); ok {
		return DayInfo{Kind: KindVacation, Type: "Vacances", Description: vac.Description}
	}

	weekday := weekdayName(date)
	if name, ok := plan[weekday]; ok {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" || strings.EqualFold(trimmed, store.NoDayType) {
			return DayInfo{Kind: KindWeekend, Type: "Weekend", Description: "Weekend"}
		}
		return DayInfo{
			Kind:         KindClass,
			Type:         fmt.Sprintf("Classe (%s)", trimmed),
			Description:  fmt.Sprintf("Planning: %s", trimmed),
			ScheduleName: trimmed,
		}
	}
	return DayInfo{Kind: KindWeekend, Type: "Weekend", Description: "Weekend (par défaut)"}
}

func classifyException(exc store.Exception) DayInfo {
	desc := exc.Description
	switch exc.Action {
	case store.ExceptionUseDayType:
		if desc == "" {
			desc = fmt.Sprintf("Exception: %s", exc.DayType)
		}
		return DayInfo{
			Kind:         KindExceptionDayType,
			Type:         "Exception (utiliser_jt)",
			Description:  desc,
			ScheduleName: exc.DayType,
		}
	case store.ExceptionSilence:
		if desc == "" {
			desc = "Exception: silence"
		}
		return DayInfo{Kind: KindExceptionSilence, Type: "Exception (Silence)", Description: desc}
	default:
		// Unknown action behaves as silence.
		return DayInfo{Kind: KindExceptionSilence, Type: "Exception (Silence)", Description: "Silence (exception inconnue)"}
	}
}

func weekdayName(date time.Time) string {
	// time.Weekday is Sunday-based; the plan keys are Monday-first.
	idx := (int(date.Weekday()) + 6) % 7
	return store.Weekdays[idx]
}
