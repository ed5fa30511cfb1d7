// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schedule implements the weekly lock schedule and its evaluator.
//
// A WeeklySchedule assigns each weekday a set of TimeSlot lock windows in
// minute-of-day form. IsLockedAt decides whether the focus lock must be
// active at a given instant, including overnight windows that wrap past
// midnight into the next day.
//
// # Key Types
//
//   - WeeklySchedule: per-weekday enabled flag plus lock windows
//   - TimeSlot: [start, end) window in minutes since midnight
//
// # Usage
//
//	ws := &schedule.WeeklySchedule{}
//	ws.Monday = schedule.DaySchedule{
//		Enabled: true,
//		Slots:   []schedule.TimeSlot{{Start: 9 * 60, End: 17 * 60}},
//	}
//	locked := schedule.IsLockedAt(ws, time.Now())
//
// Evaluation is pure and allocation-free; the lock controller calls it on
// every tick.
package schedule
