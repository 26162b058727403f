package models

import (
	"sort"
	"time"
)

// Stage is the carrier-agnostic progress of a shipment.
type Stage string

const (
	StageCreated        Stage = "CREATED"
	StageInTransit      Stage = "IN_TRANSIT"
	StageOutForDelivery Stage = "OUT_FOR_DELIVERY"
	StageDelivered      Stage = "DELIVERED"
	StageException      Stage = "EXCEPTION"
	StageUnknown        Stage = "UNKNOWN"
)

// StatusEvent is one normalized entry of a carrier timeline.
// A nil At or Location means the carrier did not report it.
type StatusEvent struct {
	At          *time.Time `json:"at,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Description string     `json:"description"`
	Stage       Stage      `json:"stage"`
}

// Timeline is ordered oldest to newest.
type Timeline []StatusEvent

func (t Timeline) Latest() (StatusEvent, bool) {
	if len(t) == 0 {
		return StatusEvent{}, false
	}
	return t[len(t)-1], true
}

func (t Timeline) LatestStage() Stage {
	if e, ok := t.Latest(); ok {
		return e.Stage
	}
	return StageUnknown
}

// Clone returns a deep copy so callers can't mutate a stored timeline.
func (t Timeline) Clone() Timeline {
	if t == nil {
		return nil
	}
	out := make(Timeline, len(t))
	for i, e := range t {
		if e.At != nil {
			at := *e.At
			e.At = &at
		}
		if e.Location != nil {
			loc := *e.Location
			e.Location = &loc
		}
		out[i] = e
	}
	return out
}

// SortChronologically orders events (given in carrier chronological order)
// by best-available timestamp. An event without a time sorts with the last
// timed event before it; ties keep the incoming order.
func SortChronologically(events []StatusEvent) Timeline {
	type keyed struct {
		key time.Time
		ev  StatusEvent
	}
	rows := make([]keyed, len(events))
	var last time.Time
	for i, e := range events {
		if e.At != nil {
			last = *e.At
		}
		rows[i] = keyed{key: last, ev: e}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].key.Before(rows[j].key) })

	out := make(Timeline, len(rows))
	for i, r := range rows {
		out[i] = r.ev
	}
	return out
}
