package history

import (
	"testing"
	"time"
)

func TestAppendMonotonicity(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 10}, nil)
	if err := s.Append(1000, 1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.Append(2000, 2); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.Append(2000, 2); err != ErrStaleAppend {
		t.Fatalf("duplicate timestamp must be rejected, got %v", err)
	}
	if err := s.Append(1500, 3); err != ErrStaleAppend {
		t.Fatalf("older timestamp must be rejected, got %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
}

func TestAppendTTLEviction(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Minute, MaxCount: 100}, nil)
	base := int64(10 * 60 * 1000)
	_ = s.Append(base, 1)
	_ = s.Append(base+30_000, 2)
	_ = s.Append(base+61_000, 3)
	pts := s.Snapshot()
	if len(pts) != 2 {
		t.Fatalf("expected first entry evicted, got %d entries", len(pts))
	}
	if pts[0].TS != base+30_000 {
		t.Fatalf("unexpected oldest entry %d", pts[0].TS)
	}
}

func TestAppendCountBound(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 3}, nil)
	for i := int64(1); i <= 5; i++ {
		_ = s.Append(i*1000, float64(i))
	}
	pts := s.Snapshot()
	if len(pts) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(pts))
	}
	if pts[0].V != 3 || pts[2].V != 5 {
		t.Fatalf("expected oldest dropped first: %+v", pts)
	}
}

func TestAppendMarksDirty(t *testing.T) {
	dirty := 0
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 10}, func() { dirty++ })
	_ = s.Append(1000, 1)
	_ = s.Append(1000, 1) // rejected
	if dirty != 1 {
		t.Fatalf("expected exactly one dirty mark, got %d", dirty)
	}
}

func TestOldestWithinWindow(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 100}, nil)
	now := int64(3_600_000)
	_ = s.Append(now-400_000, 1)
	_ = s.Append(now-200_000, 2)
	_ = s.Append(now, 3)

	pt, ok := s.OldestWithin(now, 300_000)
	if !ok || pt.V != 2 {
		t.Fatalf("expected oldest-in-window value 2, got %+v (ok=%v)", pt, ok)
	}
	// Only the current tick inside the window: no timeframe data.
	if _, ok := s.OldestWithin(now, 100_000); ok {
		t.Fatalf("current-instant entry must not count as timeframe data")
	}
	pt, ok = s.OldestWithin(now, 500_000)
	if !ok || pt.V != 1 {
		t.Fatalf("expected full-window oldest 1, got %+v", pt)
	}
}

func TestSumSince(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 100}, nil)
	now := int64(1_000_000)
	_ = s.Append(now-90_000, 100)
	_ = s.Append(now-50_000, -30)
	_ = s.Append(now-10_000, 20)
	if got := s.SumSince(now, 60_000); got != -10 {
		t.Fatalf("expected window sum -10, got %f", got)
	}
	if got := s.SumSince(now, 200_000); got != 90 {
		t.Fatalf("expected full sum 90, got %f", got)
	}
}

func TestMeanWithinAndLastN(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Hour, MaxCount: 100}, nil)
	now := int64(1_000_000)
	_ = s.Append(now-300_000, 30)
	_ = s.Append(now-100_000, 10)
	_ = s.Append(now-50_000, 20)

	mean, ok := s.MeanWithin(now, 150_000)
	if !ok || mean != 15 {
		t.Fatalf("expected window mean 15, got %f (ok=%v)", mean, ok)
	}
	if _, ok := s.MeanWithin(now, 10_000); ok {
		t.Fatalf("empty window must report no mean")
	}
	mean, ok = s.MeanLastN(2)
	if !ok || mean != 15 {
		t.Fatalf("expected last-2 mean 15, got %f", mean)
	}
	mean, _ = s.MeanLastN(10)
	if mean != 20 {
		t.Fatalf("expected last-10 mean 20, got %f", mean)
	}
}

func TestLoadAppliesAgeTrimAndOrder(t *testing.T) {
	s := NewSeries(Bounds{TTL: time.Minute, MaxCount: 100}, nil)
	now := int64(10 * 60 * 1000)
	s.Load(now, []Point{
		{TS: now - 120_000, V: 1}, // beyond TTL
		{TS: now - 30_000, V: 2},
		{TS: now - 40_000, V: 3}, // out of order
		{TS: now - 10_000, V: 4},
	})
	pts := s.Snapshot()
	if len(pts) != 2 || pts[0].V != 2 || pts[1].V != 4 {
		t.Fatalf("unexpected loaded points: %+v", pts)
	}
}
