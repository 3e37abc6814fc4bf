package history

import (
	"errors"
	"time"
)

// ErrStaleAppend reports an append at or before the newest entry's timestamp.
var ErrStaleAppend = errors.New("history: append not newer than newest entry")

type Point struct {
	TS int64
	V  float64
}

// Bounds caps a series by age and count.
type Bounds struct {
	TTL      time.Duration
	MaxCount int
}

// Series is an append-only rolling window of (timestamp, value) entries with
// strictly increasing timestamps. Entries are never mutated after append, so
// Snapshot copies are safe for concurrent observers.
type Series struct {
	bounds  Bounds
	points  []Point
	onDirty func()
}

func NewSeries(bounds Bounds, onDirty func()) *Series {
	return &Series{bounds: bounds, onDirty: onDirty}
}

// Append adds (ts, v), evicts entries older than TTL relative to ts, then
// trims oldest entries beyond the count bound. Appends at or before the
// newest timestamp are rejected.
func (s *Series) Append(ts int64, v float64) error {
	if n := len(s.points); n > 0 && ts <= s.points[n-1].TS {
		return ErrStaleAppend
	}
	s.points = append(s.points, Point{TS: ts, V: v})
	s.evict(ts)
	if s.onDirty != nil {
		s.onDirty()
	}
	return nil
}

func (s *Series) evict(nowMS int64) {
	if ttl := s.bounds.TTL; ttl > 0 {
		cutoff := nowMS - ttl.Milliseconds()
		idx := 0
		for idx < len(s.points) && s.points[idx].TS < cutoff {
			idx++
		}
		if idx > 0 {
			s.points = append(s.points[:0], s.points[idx:]...)
		}
	}
	if max := s.bounds.MaxCount; max > 0 && len(s.points) > max {
		s.points = append(s.points[:0], s.points[len(s.points)-max:]...)
	}
}

func (s *Series) Len() int {
	return len(s.points)
}

func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Snapshot returns a structural copy of the window.
func (s *Series) Snapshot() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// OldestWithin returns the oldest entry inside [now-window, now); entries at
// the current instant do not count as timeframe data.
func (s *Series) OldestWithin(nowMS, windowMS int64) (Point, bool) {
	cutoff := nowMS - windowMS
	for _, pt := range s.points {
		if pt.TS < cutoff {
			continue
		}
		if pt.TS >= nowMS {
			break
		}
		return pt, true
	}
	return Point{}, false
}

// SumSince sums values with timestamps in (now-window, now].
func (s *Series) SumSince(nowMS, windowMS int64) float64 {
	cutoff := nowMS - windowMS
	var total float64
	for i := len(s.points) - 1; i >= 0; i-- {
		if s.points[i].TS <= cutoff {
			break
		}
		total += s.points[i].V
	}
	return total
}

// MeanWithin averages values with timestamps in [now-window, now]; false when
// the window holds no samples.
func (s *Series) MeanWithin(nowMS, windowMS int64) (float64, bool) {
	cutoff := nowMS - windowMS
	var sum float64
	var count int
	for _, pt := range s.points {
		if pt.TS < cutoff || pt.TS > nowMS {
			continue
		}
		sum += pt.V
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// MeanLastN averages the newest n samples regardless of age.
func (s *Series) MeanLastN(n int) (float64, bool) {
	if len(s.points) == 0 || n <= 0 {
		return 0, false
	}
	start := len(s.points) - n
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, pt := range s.points[start:] {
		sum += pt.V
	}
	return sum / float64(len(s.points)-start), true
}

// Load replaces the window with stored points, applying age trim against
// nowMS and dropping out-of-order entries. Load does not mark dirty.
func (s *Series) Load(nowMS int64, points []Point) {
	s.points = s.points[:0]
	var lastTS int64
	cutoff := int64(0)
	if s.bounds.TTL > 0 {
		cutoff = nowMS - s.bounds.TTL.Milliseconds()
	}
	for _, pt := range points {
		if pt.TS < cutoff || pt.TS <= lastTS {
			continue
		}
		s.points = append(s.points, pt)
		lastTS = pt.TS
	}
	if max := s.bounds.MaxCount; max > 0 && len(s.points) > max {
		s.points = append(s.points[:0], s.points[len(s.points)-max:]...)
	}
}
