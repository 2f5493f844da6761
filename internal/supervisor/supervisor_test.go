package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLoop struct {
	paused bool
}

func (f *fakeLoop) Pause()         { f.paused = true }
func (f *fakeLoop) Resume()        { f.paused = false }
func (f *fakeLoop) IsPaused() bool { return f.paused }

func TestRecordFailure_TripsAtThreshold(t *testing.T) {
	require := require.New(t)
	loop := &fakeLoop{}
	s := New(loop, nil, nil, 3, time.Hour)
	ctx := context.Background()

	s.RecordFailure(ctx)
	s.RecordFailure(ctx)
	require.False(loop.paused)

	s.RecordFailure(ctx)
	require.True(loop.paused)
	require.Equal(int64(3), s.GetStatus().ConsecutiveErrors)
}

func TestRecordSuccess_ResetsCounter(t *testing.T) {
	require := require.New(t)
	loop := &fakeLoop{}
	s := New(loop, nil, nil, 3, time.Hour)
	ctx := context.Background()

	s.RecordFailure(ctx)
	s.RecordFailure(ctx)
	s.RecordSuccess()

	require.Equal(int64(0), s.GetStatus().ConsecutiveErrors)
}

func TestRecordFailure_AutoResumesAfterPauseDuration(t *testing.T) {
	require := require.New(t)
	loop := &fakeLoop{}
	s := New(loop, nil, nil, 1, 20*time.Millisecond)
	ctx := context.Background()

	s.RecordFailure(ctx)
	require.True(loop.paused)

	require.Eventually(func() bool {
		return !loop.paused
	}, time.Second, 5*time.Millisecond)
}

func TestOperatorPause_BlocksAutoResume(t *testing.T) {
	require := require.New(t)
	loop := &fakeLoop{}
	s := New(loop, nil, nil, 1, 20*time.Millisecond)
	ctx := context.Background()

	s.RecordFailure(ctx)
	s.OperatorPause()
	require.True(loop.paused)

	time.Sleep(100 * time.Millisecond)
	require.True(loop.paused, "operator pause must survive the automatic resume timer")

	s.OperatorResume()
	require.False(loop.paused)
	status := s.GetStatus()
	require.False(status.OperatorPaused)
	require.Equal(int64(0), status.ConsecutiveErrors)
}
