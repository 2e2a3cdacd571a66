package timers

import (
	"context"
	"testing"
	"time"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tidaljs/tidal/js/eventloop"
	"github.com/tidaljs/tidal/js/modules"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testVU struct {
	ctx     context.Context
	rt      *sobek.Runtime
	loop    *eventloop.EventLoop
	handles *eventloop.Handles
	logger  logrus.FieldLogger
}

var _ modules.VU = &testVU{}

func (vu *testVU) Context() context.Context             { return vu.ctx }
func (vu *testVU) Runtime() *sobek.Runtime              { return vu.rt }
func (vu *testVU) RegisterCallback() func(func() error) { return vu.loop.RegisterCallback() }
func (vu *testVU) AsyncHandles() *eventloop.Handles     { return vu.handles }
func (vu *testVU) Logger() logrus.FieldLogger           { return vu.logger }

func newTestVU(t testing.TB) (*testVU, context.CancelFunc) {
	t.Helper()
	rt := sobek.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &testVU{
		ctx:     ctx,
		rt:      rt,
		loop:    eventloop.New(rt, logrus.New()),
		handles: eventloop.NewHandles(),
		logger:  logrus.New(),
	}, cancel
}

func installTimers(t testing.TB, vu *testVU) *Timers {
	t.Helper()
	engine := New(vu)
	require.NoError(t, vu.rt.GlobalObject().Set("setTimeout",
		func(cb sobek.Callable, delay float64, args ...sobek.Value) uint64 {
			return engine.Enroll(cb, delay, false, args...)
		}))
	require.NoError(t, vu.rt.GlobalObject().Set("setInterval",
		func(cb sobek.Callable, delay float64, args ...sobek.Value) uint64 {
			return engine.Enroll(cb, delay, true, args...)
		}))
	require.NoError(t, vu.rt.GlobalObject().Set("clearTimeout", engine.Cancel))
	require.NoError(t, vu.rt.GlobalObject().Set("clearInterval", engine.Cancel))
	return engine
}

func TestSetTimeout(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	var log []string
	require.NoError(t, vu.rt.GlobalObject().Set("print", func(s string) { log = append(log, s) }))

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			setTimeout(() => print("one"), 0);
			print("zero");
		`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"zero", "one"}, log)
}

func TestSetTimeoutOrdering(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	var log []string
	require.NoError(t, vu.rt.GlobalObject().Set("print", func(s string) { log = append(log, s) }))

	// same-delay timers fire in enrollment order, shorter delays first
	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			setTimeout(() => print("third"), 10);
			setTimeout(() => print("first"), 0);
			setTimeout(() => print("second"), 0);
		`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, log)
}

func TestSetTimeoutArguments(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	var got int64
	require.NoError(t, vu.rt.GlobalObject().Set("record", func(v int64) { got = v }))

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`setTimeout((a, b) => record(a + b), 0, 40, 2)`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), got)
}

func TestClearTimeout(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	var log []string
	require.NoError(t, vu.rt.GlobalObject().Set("print", func(s string) { log = append(log, s) }))

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			const id = setTimeout(() => print("never"), 5);
			clearTimeout(id);
			setTimeout(() => print("only"), 10);
		`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"only"}, log)
	require.Equal(t, 0, vu.handles.Size())
}

func TestClearTimeoutHeadRearms(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	// cancelling the armed head timer must not let the next timer fire at
	// the cancelled timer's deadline
	var fired time.Duration
	start := time.Now()
	require.NoError(t, vu.rt.GlobalObject().Set("record", func() { fired = time.Since(start) }))

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			const id = setTimeout(() => {}, 20);
			setTimeout(record, 100);
			clearTimeout(id);
		`)
		return err
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, fired, time.Millisecond*100)
}

func TestIntervalCallbackError(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	engine := installTimers(t, vu)

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`setInterval(() => { throw new Error("tick boom"); }, 1)`)
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tick boom")
	// the throwing interval is not re-armed and leaves the active map
	require.Empty(t, engine.timers)
	vu.loop.WaitOnRegistered()
}

func TestClearTimeoutUnknownID(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`clearTimeout(12345)`)
		return err
	})
	require.NoError(t, err)
}

func TestSetInterval(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	var log []string
	require.NoError(t, vu.rt.GlobalObject().Set("print", func(s string) { log = append(log, s) }))

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			let count = 0;
			const id = setInterval(() => {
				print("tick");
				if (++count === 3) {
					clearInterval(id);
				}
			}, 1);
		`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tick", "tick", "tick"}, log)
	require.Equal(t, 0, vu.handles.Size())
}

func TestTimerCallbackError(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	defer cancel()
	installTimers(t, vu)

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`setTimeout(() => { throw new Error("late boom"); }, 0)`)
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "late boom")
	vu.loop.WaitOnRegistered()
}

func TestRuntimeShutdownStopsTimers(t *testing.T) {
	t.Parallel()
	vu, cancel := newTestVU(t)
	installTimers(t, vu)

	err := vu.loop.Start(func() error {
		_, err := vu.rt.RunString(`
			setTimeout(() => {}, 0);
			setTimeout(() => { throw new Error("stop the loop"); }, 1);
			setTimeout(() => {}, 3600 * 1000);
		`)
		return err
	})
	require.Error(t, err)
	cancel()
	vu.loop.WaitOnRegistered()
}

func TestTimerQueueOrdering(t *testing.T) {
	t.Parallel()

	tq := new(timerQueue)
	now := sameInstantTimers()
	for _, tt := range now {
		tq.add(tt)
	}
	require.Equal(t, 3, tq.length())
	require.Equal(t, uint64(1), tq.pop().id)
	require.Equal(t, uint64(2), tq.pop().id)
	require.Equal(t, uint64(3), tq.pop().id)
	require.Nil(t, tq.pop())
}

func sameInstantTimers() []*timer {
	base := make([]*timer, 0, 3)
	// enrolled out of order on purpose; seq restores enrollment order
	for _, id := range []uint64{2, 1, 3} {
		base = append(base, &timer{id: id, seq: id})
	}
	return base
}
