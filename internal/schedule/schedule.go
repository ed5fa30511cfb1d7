// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schedule implements the weekly lock schedule and its evaluator.
package schedule

import (
	"fmt"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MinutesPerDay is the number of minutes in a day. Slot boundaries are
	// minute-of-day values in [0, MinutesPerDay).
	MinutesPerDay = 24 * 60

	// MaxSlotMinute is the largest valid slot boundary (23:59).
	MaxSlotMinute = MinutesPerDay - 1
)

// =============================================================================
// WEEKLY SCHEDULE MODEL
// =============================================================================

// TimeSlot is a lock window expressed as minute-of-day boundaries.
//
// Start <= End means the window is [Start, End) on its own day.
// Start > End means the window wraps past midnight: [Start, 1440) on its own
// day plus [0, End) on the following day. Start == End is a zero-width
// window that never matches.
type TimeSlot struct {
	Start int `toml:"start" json:"start"`
	End   int `toml:"end" json:"end"`
}

// DaySchedule holds the lock windows for one weekday.
type DaySchedule struct {
	Enabled bool       `toml:"enabled" json:"enabled"`
	Slots   []TimeSlot `toml:"slots,omitempty" json:"slots,omitempty"`
}

// WeeklySchedule maps each weekday to its lock windows.
type WeeklySchedule struct {
	Monday    DaySchedule `toml:"monday" json:"monday"`
	Tuesday   DaySchedule `toml:"tuesday" json:"tuesday"`
	Wednesday DaySchedule `toml:"wednesday" json:"wednesday"`
	Thursday  DaySchedule `toml:"thursday" json:"thursday"`
	Friday    DaySchedule `toml:"friday" json:"friday"`
	Saturday  DaySchedule `toml:"saturday" json:"saturday"`
	Sunday    DaySchedule `toml:"sunday" json:"sunday"`
}

// Day returns the schedule for the given weekday.
func (ws *WeeklySchedule) Day(d time.Weekday) DaySchedule {
	switch d {
	case time.Monday:
		return ws.Monday
	case time.Tuesday:
		return ws.Tuesday
	case time.Wednesday:
		return ws.Wednesday
	case time.Thursday:
		return ws.Thursday
	case time.Friday:
		return ws.Friday
	case time.Saturday:
		return ws.Saturday
	default:
		return ws.Sunday
	}
}

// SetDay replaces the schedule for the given weekday.
func (ws *WeeklySchedule) SetDay(d time.Weekday, ds DaySchedule) {
	switch d {
	case time.Monday:
		ws.Monday = ds
	case time.Tuesday:
		ws.Tuesday = ds
	case time.Wednesday:
		ws.Wednesday = ds
	case time.Thursday:
		ws.Thursday = ds
	case time.Friday:
		ws.Friday = ds
	case time.Saturday:
		ws.Saturday = ds
	default:
		ws.Sunday = ds
	}
}

// Validate checks that every slot boundary is a valid minute-of-day value.
// Overlapping or unsorted slots are permitted; the evaluator applies union
// semantics over them.
func (ws *WeeklySchedule) Validate() error {
	for d := time.Sunday; d <= time.Saturday; d++ {
		ds := ws.Day(d)
		for i, slot := range ds.Slots {
			if slot.Start < 0 || slot.Start > MaxSlotMinute {
				return fmt.Errorf("%s slot %d: start minute %d out of range [0, %d]",
					d, i, slot.Start, MaxSlotMinute)
			}
			if slot.End < 0 || slot.End > MaxSlotMinute {
				return fmt.Errorf("%s slot %d: end minute %d out of range [0, %d]",
					d, i, slot.End, MaxSlotMinute)
			}
		}
	}
	return nil
}

// =============================================================================
// EVALUATOR
// =============================================================================

// IsLockedAt reports whether the schedule demands the lock be active at the
// given instant. It is a pure function of its inputs and is safe to call on
// every tick.
//
// A wrap-around slot belongs to the day it starts on: its tail [0, End) on
// the following morning is still gated by the starting day's Enabled flag,
// so a Monday 22:00-02:00 slot locks Tuesday 01:00 even when Tuesday itself
// is disabled.
func IsLockedAt(ws *WeeklySchedule, now time.Time) bool {
	if ws == nil {
		return false
	}

	m := now.Hour()*60 + now.Minute()
	day := now.Weekday()

	// Slots owned by the current day.
	today := ws.Day(day)
	if today.Enabled {
		for _, slot := range today.Slots {
			if slotMatchesHead(slot, m) {
				return true
			}
		}
	}

	// Wrap tails inherited from the previous day.
	prev := ws.Day(previousDay(day))
	if prev.Enabled {
		for _, slot := range prev.Slots {
			if slot.Start > slot.End && m < slot.End {
				return true
			}
		}
	}

	return false
}

// slotMatchesHead evaluates the portion of a slot that falls on its own day.
func slotMatchesHead(slot TimeSlot, m int) bool {
	if slot.Start == slot.End {
		// Zero-width window, never matches.
		return false
	}
	if slot.Start < slot.End {
		return slot.Start <= m && m < slot.End
	}
	// Overnight wrap: the head covers [Start, midnight).
	return m >= slot.Start
}

func previousDay(d time.Weekday) time.Weekday {
	return time.Weekday((int(d) + 6) % 7)
}
