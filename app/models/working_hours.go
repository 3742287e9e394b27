package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Weekday keys as stored in working-hours maps, Sunday first.
var WeekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// HoursWindow is one local opening window, "HH:MM" 24h clock, start < end.
type HoursWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyHours maps weekday keys (sun..sat) to ordered opening windows.
// Days without an entry (or with an empty list) are closed.
type WeeklyHours map[string][]HoursWindow

// Value implements the driver.Valuer interface
func (w WeeklyHours) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface
func (w *WeeklyHours) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid scan source for weekly hours")
	}
	if len(bytes) == 0 {
		*w = nil
		return nil
	}
	return json.Unmarshal(bytes, w)
}

// WindowsFor returns the opening windows for a weekday.
func (w WeeklyHours) WindowsFor(day time.Weekday) []HoursWindow {
	if w == nil {
		return nil
	}
	return w[WeekdayKeys[int(day)]]
}

// ParseClock converts "HH:MM" into minutes since local midnight.
func ParseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	return h*60 + m, nil
}

// Validate checks weekday keys, clock syntax and start<end ordering.
func (w WeeklyHours) Validate() error {
	valid := map[string]bool{}
	for _, key := range WeekdayKeys {
		valid[key] = true
	}
	for day, windows := range w {
		if !valid[day] {
			return fmt.Errorf("unknown weekday key %q", day)
		}
		for _, win := range windows {
			start, err := ParseClock(win.Start)
			if err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			end, err := ParseClock(win.End)
			if err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			if start >= end {
				return fmt.Errorf("%s: window %s-%s must start before it ends", day, win.Start, win.End)
			}
		}
	}
	return nil
}
