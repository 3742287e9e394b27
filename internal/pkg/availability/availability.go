// Package availability generates bookable slots from a business's effective
// profile and a set of busy intervals pulled from the external calendar. The
// generator is a pure function of its inputs so the same request always
// yields the same slot list.
package availability

import (
	"sort"
	"time"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// Interval is a half-open [Start, End) busy span in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is one bookable opening, carried in both the business's local time
// and UTC so callers never re-derive one from the other.
type Slot struct {
	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time
}

// Overlaps reports strict overlap between two half-open intervals:
// a.start < b.end AND a.end > b.start. Touching edges do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// NormalizeBusy expands every interval by the given buffers, sorts by start
// and merges overlapping or adjacent spans. The result is sorted and
// pairwise disjoint; inputs with End before Start are dropped.
func NormalizeBusy(intervals []Interval, bufferBefore, bufferAfter time.Duration) []Interval {
	expanded := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		start := iv.Start.Add(-bufferBefore)
		end := iv.End.Add(bufferAfter)
		if !end.After(start) {
			continue
		}
		expanded = append(expanded, Interval{Start: start, End: end})
	}

	sort.Slice(expanded, func(i, j int) bool {
		if expanded[i].Start.Equal(expanded[j].Start) {
			return expanded[i].End.Before(expanded[j].End)
		}
		return expanded[i].Start.Before(expanded[j].Start)
	})

	merged := make([]Interval, 0, len(expanded))
	for _, iv := range expanded {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Slots walks every working-hours window of every local day in
// [windowStartLocal, windowStartLocal + days) and emits each granularity
// step whose [cursor, cursor+duration) span is after the lead-time horizon
// and clear of every busy interval.
//
// The cursor grid is anchored at the window start: a lead time landing
// mid-window rounds up to the next granularity boundary counted from the
// window's opening, so the emitted slots never shift as "now" advances
// within one granularity step.
func Slots(profile models.EffectiveProfile, windowStartLocal time.Time, days, durationMin int, busyUTC []Interval, now time.Time) []Slot {
	loc := windowStartLocal.Location()
	if durationMin <= 0 {
		durationMin = profile.DefaultDurationMin
	}
	duration := time.Duration(durationMin) * time.Minute
	granularity := time.Duration(profile.SlotGranularityMin) * time.Minute
	if granularity <= 0 {
		granularity = 15 * time.Minute
	}

	earliestLocal := now.In(loc).Add(time.Duration(profile.LeadTimeMin) * time.Minute)

	var out []Slot
	day := time.Date(windowStartLocal.Year(), windowStartLocal.Month(), windowStartLocal.Day(), 0, 0, 0, 0, loc)
	for d := 0; d < days; d++ {
		for _, w := range profile.WorkingHours.WindowsFor(day.Weekday()) {
			startMin, err := models.ParseClock(w.Start)
			if err != nil {
				continue
			}
			endMin, err := models.ParseClock(w.End)
			if err != nil || endMin <= startMin {
				continue
			}

			windowStart := day.Add(time.Duration(startMin) * time.Minute)
			windowEnd := day.Add(time.Duration(endMin) * time.Minute)

			cursor := windowStart
			if earliestLocal.After(cursor) {
				cursor = alignUp(windowStart, earliestLocal, granularity)
			}

			for !cursor.Add(duration).After(windowEnd) {
				startUTC := cursor.UTC()
				endUTC := cursor.Add(duration).UTC()
				if !anyOverlap(startUTC, endUTC, busyUTC) {
					out = append(out, Slot{
						StartLocal: cursor,
						EndLocal:   cursor.Add(duration),
						StartUTC:   startUTC,
						EndUTC:     endUTC,
					})
				}
				cursor = cursor.Add(granularity)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// alignUp rounds t up to the next grid step counted from anchor; t already
// on the grid stays put.
func alignUp(anchor, t time.Time, step time.Duration) time.Time {
	offset := t.Sub(anchor)
	if offset <= 0 {
		return anchor
	}
	steps := offset / step
	if offset%step != 0 {
		steps++
	}
	return anchor.Add(steps * step)
}

func anyOverlap(start, end time.Time, busy []Interval) bool {
	for _, iv := range busy {
		if Overlaps(start, end, iv.Start, iv.End) {
			return true
		}
	}
	return false
}

// IsOutsideBusinessHours reports whether the local start time falls outside
// every working-hours window of its weekday. Used for after-hours emergency
// classification, not for rejecting bookings.
func IsOutsideBusinessHours(startLocal time.Time, hours models.WeeklyHours) bool {
	dayStart := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, startLocal.Location())
	for _, w := range hours.WindowsFor(startLocal.Weekday()) {
		startMin, err := models.ParseClock(w.Start)
		if err != nil {
			continue
		}
		endMin, err := models.ParseClock(w.End)
		if err != nil {
			continue
		}
		ws := dayStart.Add(time.Duration(startMin) * time.Minute)
		we := dayStart.Add(time.Duration(endMin) * time.Minute)
		if !startLocal.Before(ws) && startLocal.Before(we) {
			return false
		}
	}
	return true
}
