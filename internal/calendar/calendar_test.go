package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calassist/internal/model"
)

var base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func ev(id string, startH, endH int) model.ExistingEvent {
	return model.ExistingEvent{
		ID:    id,
		Title: id,
		Start: base.Add(time.Duration(startH) * time.Hour),
		End:   base.Add(time.Duration(endH) * time.Hour),
	}
}

type staticSource struct {
	mu    sync.Mutex
	evs   []model.ExistingEvent
	err   error
	calls int
}

func (s *staticSource) Events(_ context.Context, from, to time.Time) ([]model.ExistingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil && s.evs == nil {
		return nil, s.err
	}
	var out []model.ExistingEvent
	for _, e := range s.evs {
		if InRange(e, from, to) {
			out = append(out, e)
		}
	}
	return out, s.err
}

type countingRecorder struct{ outcomes []string }

func (c *countingRecorder) IncRefresh(outcome string) { c.outcomes = append(c.outcomes, outcome) }

func TestMultiMergesAndKeepsPartialResults(t *testing.T) {
	a := &staticSource{evs: []model.ExistingEvent{ev("a2", 5, 6), ev("a1", 1, 2)}}
	b := &staticSource{evs: []model.ExistingEvent{ev("b1", 3, 4)}}
	broken := &staticSource{err: errors.New("unreachable")}

	got, err := Multi{a, broken, b}.Events(context.Background(), base, base.Add(24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source 1")

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a1", "b1", "a2"}, ids)
}

func TestInRange(t *testing.T) {
	from, to := base, base.Add(2*time.Hour)
	assert.True(t, InRange(ev("inside", 0, 1), from, to))
	assert.True(t, InRange(ev("straddle", -1, 1), from, to))
	assert.False(t, InRange(ev("before", -2, 0), from, to))
	assert.False(t, InRange(ev("after", 2, 3), from, to))
	assert.True(t, InRange(ev("instant", 1, 1), from, to))
	assert.False(t, InRange(ev("instant-at-end", 2, 2), from, to))
}

func TestSnapshotServesCopiesWithinWindow(t *testing.T) {
	src := &staticSource{evs: []model.ExistingEvent{ev("x", 1, 2), ev("y", 30, 31)}}
	rec := &countingRecorder{}
	s := NewSnapshot(src, SnapshotOptions{
		Horizon:  48 * time.Hour,
		Now:      func() time.Time { return base },
		Recorder: rec,
	})
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, src.calls)

	got, err := s.Events(context.Background(), base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.Equal(t, 1, src.calls, "served from the snapshot")

	got[0].Title = "mutated"
	again, err := s.Events(context.Background(), base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "x", again[0].Title)

	// Outside the cached window the source is asked directly.
	_, err = s.Events(context.Background(), base.Add(-24*time.Hour), base)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	at, lastErr := s.RefreshedAt()
	assert.Equal(t, base, at)
	assert.NoError(t, lastErr)
	assert.Equal(t, []string{"ok"}, rec.outcomes)
}

func TestSnapshotRefreshFailureKeepsOldData(t *testing.T) {
	src := &staticSource{evs: []model.ExistingEvent{ev("x", 1, 2)}}
	rec := &countingRecorder{}
	s := NewSnapshot(src, SnapshotOptions{Now: func() time.Time { return base }, Recorder: rec})
	require.NoError(t, s.Refresh(context.Background()))

	src.mu.Lock()
	src.evs, src.err = nil, errors.New("down")
	src.mu.Unlock()
	require.Error(t, s.Refresh(context.Background()))

	got, err := s.Events(context.Background(), base, base.Add(time.Hour*24))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, lastErr := s.RefreshedAt()
	assert.Error(t, lastErr)
	assert.Equal(t, []string{"ok", "error"}, rec.outcomes)
}

func TestSnapshotConcurrentReaders(t *testing.T) {
	src := &staticSource{evs: []model.ExistingEvent{ev("x", 1, 2), ev("y", 3, 4)}}
	s := NewSnapshot(src, SnapshotOptions{Now: func() time.Time { return base }})
	require.NoError(t, s.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%4 == 0 {
				_ = s.Refresh(context.Background())
				return
			}
			got, err := s.Events(context.Background(), base, base.Add(24*time.Hour))
			assert.NoError(t, err)
			assert.Len(t, got, 2)
		}()
	}
	wg.Wait()
}

func TestStartRefreshRejectsBadSpec(t *testing.T) {
	s := NewSnapshot(&staticSource{}, SnapshotOptions{})
	_, err := StartRefresh(context.Background(), s, "not a cron", time.UTC, time.Second)
	assert.Error(t, err)

	sc, err := StartRefresh(context.Background(), s, "*/5 * * * *", time.UTC, time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sc.Stop(ctx)
}
