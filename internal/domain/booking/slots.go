package booking

// SlotConfig describes the daily bookable window.
type SlotConfig struct {
	StartHour       int
	EndHour         int
	IntervalMinutes int
}

// DefaultSlotConfig is 09:00-17:00 in 30 minute steps.
var DefaultSlotConfig = SlotConfig{StartHour: 9, EndHour: 17, IntervalMinutes: 30}

// GenerateSlots returns the nominal slots of a day: every interval from
// startHour:00 up to but excluding endHour:00. A slot that would run past the
// window is cut off at endHour:00. The window is the same for every date.
func GenerateSlots(date string, startHour, endHour, intervalMinutes int) []Slot {
	if startHour < 0 {
		startHour = 0
	}
	if endHour > 24 {
		endHour = 24
	}
	if intervalMinutes <= 0 || startHour >= endHour {
		return []Slot{}
	}

	start, end := startHour*60, endHour*60
	slots := make([]Slot, 0, (end-start+intervalMinutes-1)/intervalMinutes)
	for m := start; m < end; m += intervalMinutes {
		slotEnd := m + intervalMinutes
		if slotEnd > end {
			slotEnd = end
		}
		t := FormatClock(m)
		endStr := FormatClock(slotEnd)
		if slotEnd == minutesPerDay {
			endStr = "24:00"
		}
		slots = append(slots, Slot{
			Time:        t,
			EndTime:     endStr,
			DisplayTime: To12Hour(t),
			Available:   true,
		})
	}
	return slots
}

// FilterAvailability marks each slot unavailable when its time is among
// bookedTimes. Booked times may be in either accepted clock format.
func FilterAvailability(slots []Slot, bookedTimes []string) []Slot {
	booked := make(map[string]struct{}, len(bookedTimes))
	for _, t := range bookedTimes {
		if n, err := NormalizeTime(t); err == nil {
			booked[n] = struct{}{}
		}
	}
	out := make([]Slot, len(slots))
	for i, s := range slots {
		_, taken := booked[s.Time]
		s.Available = !taken
		out[i] = s
	}
	return out
}
