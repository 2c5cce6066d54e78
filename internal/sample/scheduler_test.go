package sample

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/databike/replay/internal/timeline"
	"github.com/databike/replay/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRaw builds a RawTimeline with samples at the given seconds and x
// positions; all other channels are simple functions of the index.
func testRaw(seconds, xs []float64) *core.RawTimeline {
	raw := &core.RawTimeline{Name: "test", BikeName: "citybike", PedalOffset: 7}
	for i, s := range seconds {
		raw.Time = append(raw.Time, int64(s*float64(core.TicksPerSecond)))
		raw.PosX = append(raw.PosX, xs[i])
		raw.PosY = append(raw.PosY, 0)
		raw.PosZ = append(raw.PosZ, 0)
		raw.RotX = append(raw.RotX, 0)
		raw.RotY = append(raw.RotY, 180)
		raw.RotZ = append(raw.RotZ, 0)
		raw.WheelRPM = append(raw.WheelRPM, 60)
		raw.SteeringRot = append(raw.SteeringRot, 0)
		raw.PedalRot = append(raw.PedalRot, 0)
		raw.BrakeRight = append(raw.BrakeRight, 0.5)
		raw.BrakeLeft = append(raw.BrakeLeft, 0)
		raw.SuspFront = append(raw.SuspFront, 0)
		raw.SuspRear = append(raw.SuspRear, 0)
		raw.SeatPos = append(raw.SeatPos, 1)
		raw.GearFront = append(raw.GearFront, 1)
		raw.GearRear = append(raw.GearRear, 1)
	}
	return raw
}

func linearTimeline(t *testing.T, length float64) *timeline.Interpolated {
	t.Helper()
	var seconds, xs []float64
	for s := 0.0; s <= length; s++ {
		seconds = append(seconds, s)
		xs = append(xs, 2*s)
	}
	it, err := timeline.Build(testRaw(seconds, xs))
	require.NoError(t, err)
	return it
}

func newTestScheduler(t *testing.T, it *timeline.Interpolated, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(slog.Default(), it, cfg)
	require.NoError(t, err)
	return s
}

// pendingStates copies the precomputed window without consuming it.
func pendingStates(s *Scheduler) []core.BikeState {
	var out []core.BikeState
	n := s.pending.Len()
	for range n {
		slot, _ := s.pending.Pop()
		out = append(out, *s.pool.state(slot))
		s.pending.Push(slot)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 4), Config{})
	assert.Equal(t, DefaultBatchSize, s.BatchSize())
	assert.Equal(t, DefaultBaseStep, s.CurrentStepSize())
	assert.Equal(t, DefaultBaseStep, s.BaseStep())
	assert.Equal(t, 1.0, s.ReplaySpeed())
	assert.Equal(t, 0.0, s.CurrentTime())
	assert.Equal(t, 4.0, s.Length())
	assert.Equal(t, 7.0, s.PedalOffset())
	assert.Equal(t, DefaultBatchSize+1, s.pool.size())
	assert.NotNil(t, s.Timeline())
}

func TestNew_InvalidConfig(t *testing.T) {
	it := linearTimeline(t, 2)
	_, err := New(nil, it, Config{BatchSize: 1})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = New(nil, it, Config{BaseStep: -1})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = New(nil, nil, Config{})
	assert.Error(t, err)
}

func TestNew_PedalOffsetOverride(t *testing.T) {
	off := 42.0
	s := newTestScheduler(t, linearTimeline(t, 2), Config{PedalOffset: &off, BaseStep: 0.5})
	st, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 42.0, st.PedalOffset)

	s.SetPedalOffset(3)
	s.InvalidateSamples()
	st, err = s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 3.0, st.PedalOffset)
}

func TestGetNextSample_ExhaustsAfterFloorLengthOverStep(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 2), Config{BatchSize: 3, BaseStep: 0.25})

	calls := int(math.Floor(s.Length() / s.CurrentStepSize()))
	require.Equal(t, 8, calls)
	for i := range calls {
		st, err := s.GetNextSample()
		require.NoError(t, err, "call %d", i)
		assert.InDelta(t, float64(i)*0.25, st.Time, 1e-12)
		assert.InDelta(t, float64(i)*0.5, st.Position.X, 1e-9)
	}
	_, err := s.GetNextSample()
	assert.ErrorIs(t, err, ErrEndOfTimeline)
	_, err = s.GetNextSample()
	assert.ErrorIs(t, err, ErrEndOfTimeline)
}

func TestGetNextSample_FloorWhenStepDoesNotDivideLength(t *testing.T) {
	tests := []struct {
		name  string
		step  float64
		seek  float64
		calls int
	}{
		{"step 0.3", 0.3, 0, 3},
		{"step 0.7", 0.7, 0, 1},
		{"step 0.25", 0.25, 0, 4},
		{"step 0.3 from 0.5", 0.3, 0.5, 1},
		{"step longer than rest", 0.3, 0.8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, linearTimeline(t, 1), Config{BatchSize: 3, BaseStep: tt.step})
			require.NoError(t, s.SetCurrentTime(tt.seek))

			produced := 0
			for {
				st, err := s.GetNextSample()
				if err != nil {
					require.ErrorIs(t, err, ErrEndOfTimeline)
					break
				}
				assert.Less(t, st.Time, s.Length())
				produced++
				require.LessOrEqual(t, produced, 10)
			}
			assert.Equal(t, tt.calls, produced)
			assert.Equal(t, int(math.Floor((s.Length()-tt.seek)/tt.step+1e-9)), produced)
		})
	}
}

func TestGetNextSample_SpeedScenario(t *testing.T) {
	it, err := timeline.Build(testRaw([]float64{0, 1, 2}, []float64{0, 1, 3}))
	require.NoError(t, err)
	s := newTestScheduler(t, it, Config{BatchSize: 3, BaseStep: 1})

	first, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.SpeedMPS)

	rest := pendingStates(s)
	require.Len(t, rest, 2)
	assert.InDelta(t, 1.0, rest[0].SpeedMPS, 1e-9)
	assert.InDelta(t, 2.0, rest[1].SpeedMPS, 1e-9)
}

func TestGetNextSample_SpeedBackfill(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 10), Config{BatchSize: 4, BaseStep: 0.5})

	st0, err := s.GetNextSample()
	require.NoError(t, err)
	speed0 := st0.SpeedMPS
	st1, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, st1.SpeedMPS, speed0)
	assert.InDelta(t, 2.0, speed0, 1e-9)

	// after a seek the first sample is backfilled again
	require.NoError(t, s.SetCurrentTime(5))
	st0, err = s.GetNextSample()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, st0.SpeedMPS, 1e-9)
}

func TestGetNextSample_SpeedAcrossBatches(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 10), Config{BatchSize: 2, BaseStep: 0.5})
	for range 6 {
		st, err := s.GetNextSample()
		require.NoError(t, err)
		assert.InDelta(t, 2.0, st.SpeedMPS, 1e-9, "t=%g", st.Time)
	}
}

func TestGetNextSample_PoolRecycling(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 100), Config{BatchSize: 5, BaseStep: 0.1})
	seen := map[*core.BikeState]bool{}
	for range 200 {
		st, err := s.GetNextSample()
		require.NoError(t, err)
		seen[st] = true
		// delivered + pending + free always accounts for every slot
		assert.Equal(t, s.pool.size(), 1+s.pending.Len()+s.pool.available())
	}
	assert.LessOrEqual(t, len(seen), s.pool.size())
}

func TestGetNextSample_StateOverwrittenAfterNextCall(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 10), Config{BatchSize: 2, BaseStep: 1})
	first, err := s.GetNextSample()
	require.NoError(t, err)
	kept := *first
	for range 3 {
		_, err = s.GetNextSample()
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, kept.Time)
	assert.NotEqual(t, kept.Time, first.Time, "pooled state must be reused")
}

func TestGetNextSample_ClampAndRPM(t *testing.T) {
	raw := testRaw([]float64{0, 1, 2, 3}, []float64{0, 0, 0, 0})
	// spline overshoot below 0 between the knots
	raw.BrakeLeft = []float64{0, 0, 1, 0}
	raw.SeatPos = []float64{1, 1, 0, 1}
	it, err := timeline.Build(raw)
	require.NoError(t, err)
	require.Less(t, it.Channel(timeline.BrakeLeft).At(0.5), 0.0)
	require.Greater(t, it.Channel(timeline.SeatPos).At(0.5), 1.0)

	s := newTestScheduler(t, it, Config{BatchSize: 4, BaseStep: 0.25})
	require.NoError(t, s.SetReplaySpeed(2))
	for range 6 {
		st, err := s.GetNextSample()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.BrakeLeft, 0.0)
		assert.LessOrEqual(t, st.SeatPosition, 1.0)
		assert.InDelta(t, 120.0, st.WheelRPM, 1e-9)
		assert.Equal(t, 0.5, st.BrakeRight)
	}
}

func TestSetCurrentTime(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 4), Config{BatchSize: 4, BaseStep: 0.5})
	_, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Pending())

	require.NoError(t, s.SetCurrentTime(2))
	assert.Equal(t, 2.0, s.CurrentTime())
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.hasPrev)

	st, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 2.0, st.Time)
	assert.InDelta(t, 4.0, st.Position.X, 1e-9)
	assert.Equal(t, 2.5, s.CurrentTime())

	require.NoError(t, s.SetCurrentTime(4))
	_, err = s.GetNextSample()
	assert.ErrorIs(t, err, ErrEndOfTimeline)
}

func TestSetCurrentTime_OutOfRangeLeavesState(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 4), Config{BatchSize: 4, BaseStep: 0.5})
	_, err := s.GetNextSample()
	require.NoError(t, err)
	before := s.CurrentTime()
	pending := s.Pending()

	for _, bad := range []float64{s.Length() + 1, -0.1, math.NaN()} {
		err := s.SetCurrentTime(bad)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
	assert.Equal(t, before, s.CurrentTime())
	assert.Equal(t, pending, s.Pending())
}

func TestSetReplaySpeed(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 10), Config{BatchSize: 4, BaseStep: 0.25})
	for range 2 {
		_, err := s.GetNextSample()
		require.NoError(t, err)
	}
	require.NoError(t, s.SetReplaySpeed(4))
	assert.Equal(t, 1.0, s.CurrentStepSize())
	assert.Equal(t, 4.0, s.ReplaySpeed())
	assert.Equal(t, 0.5, s.CurrentTime(), "speed change keeps position")
	assert.Equal(t, 0, s.Pending())

	st, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 0.5, st.Time)
	st, err = s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 1.5, st.Time)

	for _, bad := range []float64{0, -1, math.Inf(1), math.NaN()} {
		assert.ErrorIs(t, s.SetReplaySpeed(bad), ErrOutOfRange)
	}
	assert.Equal(t, 4.0, s.ReplaySpeed())
}

func TestGearLookup(t *testing.T) {
	raw := testRaw([]float64{0, 1, 2, 3, 4}, []float64{0, 1, 2, 3, 4})
	raw.GearFront = []int{1, 1, 2, 2, 3}
	raw.GearRear = []int{4, 5, 5, 5, 5}
	it, err := timeline.Build(raw)
	require.NoError(t, err)

	s := newTestScheduler(t, it, Config{BatchSize: 3, BaseStep: 0.5})
	var front, rear []int
	for {
		st, err := s.GetNextSample()
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfTimeline)
			break
		}
		front = append(front, st.GearFront)
		rear = append(rear, st.GearRear)
	}
	//                    0  .5 1  1.5 2  2.5 3  3.5
	assert.Equal(t, []int{1, 1, 1, 1, 2, 2, 2, 2}, front)
	assert.Equal(t, []int{4, 4, 5, 5, 5, 5, 5, 5}, rear)

	// seeking into the middle finds the right change point
	require.NoError(t, s.SetCurrentTime(3.5))
	st, err := s.GetNextSample()
	require.NoError(t, err)
	assert.Equal(t, 2, st.GearFront)
	assert.Equal(t, 5, st.GearRear)
}

func TestGearGapWarning(t *testing.T) {
	raw := testRaw([]float64{0, 0.1, 0.2, 0.3}, []float64{0, 0, 0, 0})
	raw.GearRear = []int{1, 2, 3, 3}
	it, err := timeline.Build(raw)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := New(logger, it, Config{BatchSize: 2, BaseStep: 0.05})
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	require.NoError(t, s.SetReplaySpeed(4))
	assert.Contains(t, buf.String(), "step size exceeds minimum gap between gear changes")
}

func TestGetTrailSamples(t *testing.T) {
	s := newTestScheduler(t, linearTimeline(t, 2), Config{BatchSize: 4, BaseStep: 0.5})
	_, err := s.GetNextSample()
	require.NoError(t, err)
	before := s.CurrentTime()

	trail, err := s.GetTrailSamples(10)
	require.NoError(t, err)
	require.Len(t, trail, 20)
	assert.InDelta(t, 0, trail[0].X, 1e-9)
	assert.InDelta(t, 2*1.9, trail[19].X, 1e-9)
	for i := 1; i < len(trail); i++ {
		assert.Greater(t, trail[i].X, trail[i-1].X)
	}
	assert.Equal(t, before, s.CurrentTime(), "trail must not touch playback")
	assert.Equal(t, 3, s.Pending())

	_, err = s.GetTrailSamples(0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPoolExhaustionPanics(t *testing.T) {
	p := newPool(2)
	p.checkout()
	p.checkout()
	assert.Panics(t, func() { p.checkout() })

	p = newPool(1)
	assert.Panics(t, func() { p.recycle(0) })
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 0.3, clamp01(0.3))
	assert.Equal(t, 1.0, clamp01(1.7))
}
