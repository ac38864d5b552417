package seriallink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-serial-link/frame"
)

var (
	_ Framer[string]        = (*frame.Lines)(nil)
	_ Framer[*frame.Packet] = (*frame.Codec)(nil)
	_ MaxFrameSizer         = (*frame.Codec)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnection[M any](t *testing.T, framer Framer[M], sink MessageSink[M]) (*Connection[M], *fakePort, *fakeOpener) {
	t.Helper()
	port := newFakePort()
	opener := &fakeOpener{port: port}
	c := New(Config{
		Device:       "/dev/ttyTEST",
		BaudRate:     115200,
		ErrorBackoff: time.Millisecond,
		Logger:       quietLogger(),
		Registerer:   prometheus.NewRegistry(),
		Opener:       opener.Open,
	}, framer, sink)
	t.Cleanup(func() { c.Stop() })
	return c, port, opener
}

func collect[M any](buf int) (chan M, MessageSink[M]) {
	ch := make(chan M, buf)
	return ch, func(m M) { ch <- m }
}

func receiveN[M any](t *testing.T, ch chan M, n int) []M {
	t.Helper()
	out := make([]M, 0, n)
	for len(out) < n {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestConnection_StartAndStop(t *testing.T) {
	_, sink := collect[string](1)
	c, port, opener := newTestConnection[string](t, frame.NewLines("\n", 0), sink)

	require.Equal(t, StateCreated, c.State())
	require.NoError(t, c.Start())
	require.Equal(t, StateOpen, c.State())
	require.True(t, c.Running())
	require.Equal(t, int32(1), opener.calls.Load())
	require.Equal(t, 115200, opener.last.BaudRate)

	require.NoError(t, c.Stop())
	require.Equal(t, StateStopped, c.State())
	require.False(t, c.Running())
	require.Equal(t, int32(1), port.closeCount.Load())
}

func TestConnection_StopIsIdempotent(t *testing.T) {
	_, sink := collect[string](1)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	require.NoError(t, c.Start())

	errs := make(chan error, 2)
	go func() {
		errs <- c.Stop()
		errs <- c.Stop()
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Stop blocked")
		}
	}
	require.Equal(t, int32(1), port.closeCount.Load())
}

func TestConnection_StopBeforeStart(t *testing.T) {
	_, sink := collect[string](1)
	c, _, opener := newTestConnection[string](t, frame.NewLines("\n", 0), sink)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	require.Equal(t, StateStopped, c.State())

	err := c.Start()
	require.ErrorIs(t, err, ErrStopped)
	require.Zero(t, opener.calls.Load())
	require.False(t, c.Running())
}

func TestConnection_StartTwiceKeepsOneLoop(t *testing.T) {
	_, sink := collect[string](1)
	c, _, opener := newTestConnection[string](t, frame.NewLines("\n", 0), sink)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	require.Equal(t, int32(1), opener.calls.Load())
}

func TestConnection_StartValidation(t *testing.T) {
	lines := frame.NewLines("\n", 0)
	sink := func(string) {}

	tests := []struct {
		name   string
		cfg    Config
		framer Framer[string]
		sink   MessageSink[string]
		want   error
	}{
		{name: "missing framer", cfg: Config{Device: "/dev/ttyTEST", BaudRate: 9600}, sink: sink, want: ErrReceiverMissing},
		{name: "missing sink", cfg: Config{Device: "/dev/ttyTEST", BaudRate: 9600}, framer: lines, want: ErrReceiverMissing},
		{name: "empty path", cfg: Config{BaudRate: 9600}, framer: lines, sink: sink, want: ErrPathInvalid},
		{name: "zero baud", cfg: Config{Device: "/dev/ttyTEST"}, framer: lines, sink: sink, want: ErrBaudRateUnset},
		{name: "negative baud", cfg: Config{Device: "/dev/ttyTEST", BaudRate: -9600}, framer: lines, sink: sink, want: ErrBaudRateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &fakeOpener{port: newFakePort()}
			tt.cfg.Opener = opener.Open
			tt.cfg.Logger = quietLogger()
			c := New(tt.cfg, tt.framer, tt.sink)

			err := c.Start()
			require.ErrorIs(t, err, tt.want)
			require.Zero(t, opener.calls.Load(), "no open may be attempted")
			require.False(t, c.Running())
			require.Equal(t, StateCreated, c.State())
		})
	}
}

func TestConnection_OpenFailedSpawnsNoLoop(t *testing.T) {
	opener := &fakeOpener{err: newOpError("open", "/dev/ttyFAKE", ErrOpenFailed, syscall.ENOENT)}
	c := New(Config{
		Device:   "/dev/ttyFAKE",
		BaudRate: 57600,
		Logger:   quietLogger(),
		Opener:   opener.Open,
	}, frame.NewLines("\n", 0), func(string) {})

	err := c.Start()
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, syscall.ENOENT)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, int(syscall.ENOENT), opErr.Code)

	require.Equal(t, int32(1), opener.calls.Load())
	require.False(t, c.Running())
	require.Equal(t, StateCreated, c.State())
	require.NoError(t, c.Stop())
}

func TestConnection_OpenerPlainErrorIsOpenFailed(t *testing.T) {
	opener := &fakeOpener{err: errors.New("device busy")}
	c := New(Config{Device: "/dev/ttyTEST", BaudRate: 9600, Logger: quietLogger(), Opener: opener.Open},
		frame.NewLines("\n", 0), func(string) {})

	err := c.Start()
	require.ErrorIs(t, err, ErrOpenFailed)
	require.Contains(t, err.Error(), "device busy")
}

func TestConnection_SendWritesSerializedBytes(t *testing.T) {
	_, sink := collect[string](1)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\r\n", 0), sink)
	require.NoError(t, c.Start())

	require.NoError(t, c.Send("C,START"))
	require.Equal(t, "C,START\r\n", port.Written())
	require.Equal(t, float64(len("C,START\r\n")), testutil.ToFloat64(c.metrics.bytesSent))
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.messagesSent))
}

func TestConnection_SendShortWriteFails(t *testing.T) {
	_, sink := collect[string](1)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	port.shortBy = 1
	require.NoError(t, c.Start())

	err := c.Send("hello")
	require.ErrorIs(t, err, ErrWriteFailed)
	require.Contains(t, err.Error(), "short write: 5 of 6 bytes")
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.writeErrors))
	require.Equal(t, 1, port.writes, "short writes are not retried")
}

func TestConnection_SendWriteError(t *testing.T) {
	_, sink := collect[string](1)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	port.writeErr = syscall.EIO
	require.NoError(t, c.Start())

	err := c.Send("hello")
	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, syscall.EIO)
}

func TestConnection_SendSerializeError(t *testing.T) {
	_, sink := collect[*frame.Packet](1)
	c, port, _ := newTestConnection[*frame.Packet](t, frame.NewCodec(), sink)
	require.NoError(t, c.Start())

	err := c.Send(nil)
	require.ErrorIs(t, err, ErrWriteFailed)
	require.Empty(t, port.Written())
}

func TestConnection_SendRequiresOpen(t *testing.T) {
	_, sink := collect[string](1)
	c, _, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)

	require.ErrorIs(t, c.Send("early"), ErrNotOpen)

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	require.ErrorIs(t, c.Send("late"), ErrNotOpen)
}

func TestConnection_SendValidatesConfig(t *testing.T) {
	c := New(Config{BaudRate: 9600, Logger: quietLogger()}, frame.NewLines("\n", 0), func(string) {})
	require.ErrorIs(t, c.Send("x"), ErrPathInvalid)

	c = New(Config{Device: "/dev/ttyTEST", Logger: quietLogger()}, frame.NewLines("\n", 0), func(string) {})
	require.ErrorIs(t, c.Send("x"), ErrBaudRateUnset)
}

func TestConnection_DeliversAcrossChunkBoundary(t *testing.T) {
	codec := frame.NewCodec()
	ch, sink := collect[*frame.Packet](4)
	c, port, _ := newTestConnection[*frame.Packet](t, codec, sink)
	require.NoError(t, c.Start())

	m1 := &frame.Packet{Type: 0x20, Fields: map[int]any{0: uint64(1)}}
	m2 := &frame.Packet{Type: 0x21, Fields: map[int]any{0: "second"}}
	b1, err := codec.Serialize(m1)
	require.NoError(t, err)
	b2, err := codec.Serialize(m2)
	require.NoError(t, err)

	split := len(b2) / 2
	port.reads <- readResult{data: append(append([]byte{}, b1...), b2[:split]...)}
	port.reads <- readResult{data: b2[split:]}

	got := receiveN(t, ch, 2)
	require.Equal(t, m1, got[0])
	require.Equal(t, m2, got[1])
	require.Equal(t, float64(len(b1)+len(b2)), testutil.ToFloat64(c.metrics.bytesReceived))
	require.Equal(t, float64(2), testutil.ToFloat64(c.metrics.messagesReceived))
}

func TestConnection_DiscardsDegenerateReads(t *testing.T) {
	ch, sink := collect[string](4)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	require.NoError(t, c.Start())

	port.reads <- readResult{data: []byte{}}
	port.reads <- readResult{overflow: true}
	port.reads <- readResult{data: []byte("kept\n")}

	require.Equal(t, []string{"kept"}, receiveN(t, ch, 1))
	require.Equal(t, float64(2), testutil.ToFloat64(c.metrics.readsDiscarded))
}

func TestConnection_ReadErrorDoesNotStopLoop(t *testing.T) {
	ch, sink := collect[string](4)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	require.NoError(t, c.Start())

	port.reads <- readResult{err: syscall.EIO}
	port.reads <- readResult{err: io.EOF}
	port.reads <- readResult{data: []byte("still here\n")}

	require.Equal(t, []string{"still here"}, receiveN(t, ch, 1))
	require.Equal(t, float64(2), testutil.ToFloat64(c.metrics.readErrors))
	require.Equal(t, StateOpen, c.State())
	require.True(t, c.Running())
}

func TestConnection_StopInterruptsErrorBackoff(t *testing.T) {
	port := newFakePort()
	opener := &fakeOpener{port: port}
	c := New(Config{
		Device:       "/dev/ttyTEST",
		BaudRate:     9600,
		ErrorBackoff: time.Hour,
		Logger:       quietLogger(),
		Opener:       opener.Open,
	}, frame.NewLines("\n", 0), func(string) {})
	require.NoError(t, c.Start())

	port.reads <- readResult{err: syscall.EIO}
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the error backoff")
	}
}

func TestConnection_NoDeliveryAfterStop(t *testing.T) {
	var delivered atomic.Int64
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), func(string) {
		delivered.Add(1)
		time.Sleep(time.Millisecond)
	})
	require.NoError(t, c.Start())

	stopFeeding := make(chan struct{})
	go func() {
		for {
			select {
			case port.reads <- readResult{data: []byte("a\nb\nc\n")}:
			case <-stopFeeding:
				return
			}
		}
	}()
	t.Cleanup(func() { close(stopFeeding) })

	require.Eventually(t, func() bool { return delivered.Load() > 3 }, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())
	require.False(t, c.Running())

	after := delivered.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, delivered.Load())
}

func TestConnection_ConcurrentSendAndReceive(t *testing.T) {
	const sends, inbound = 200, 200

	ch, sink := collect[string](inbound)
	c, port, _ := newTestConnection[string](t, frame.NewLines("\n", 0), sink)
	require.NoError(t, c.Start())

	var (
		wg      sync.WaitGroup
		sendErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			if sendErr = c.Send(fmt.Sprintf("out-%d", i)); sendErr != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < inbound; i++ {
			port.reads <- readResult{data: []byte(fmt.Sprintf("in-%d\n", i))}
		}
	}()
	wg.Wait()
	require.NoError(t, sendErr)

	got := receiveN(t, ch, inbound)
	for i, m := range got {
		require.Equal(t, fmt.Sprintf("in-%d", i), m)
	}

	written := strings.Split(strings.TrimSuffix(port.Written(), "\n"), "\n")
	require.Len(t, written, sends)
	for i, m := range written {
		require.Equal(t, fmt.Sprintf("out-%d", i), m)
	}
}

func TestConnection_BufferSize(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		framer Framer[string]
		want   int
	}{
		{name: "default", framer: frame.NewLines("\n", 0), want: DefaultBufferSize},
		{name: "framer max frame", framer: frame.NewLines("\n", 512), want: 512},
		{name: "explicit", size: 64, framer: frame.NewLines("\n", 512), want: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort()
			opener := &fakeOpener{port: port}
			c := New(Config{
				Device:     "/dev/ttyTEST",
				BaudRate:   9600,
				BufferSize: tt.size,
				Logger:     quietLogger(),
				Opener:     opener.Open,
			}, tt.framer, func(string) {})
			require.NoError(t, c.Start())
			defer c.Stop()

			select {
			case n := <-port.readSizes:
				require.Equal(t, tt.want, n)
			case <-time.After(time.Second):
				t.Fatal("receive loop never read")
			}
		})
	}
}

type resettingFramer struct {
	*frame.Lines
	resets atomic.Int32
}

func (f *resettingFramer) Reset() {
	f.resets.Add(1)
	f.Lines.Reset()
}

func TestConnection_StopResetsFramer(t *testing.T) {
	f := &resettingFramer{Lines: frame.NewLines("\n", 0)}
	c, _, _ := newTestConnection[string](t, f, func(string) {})
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	require.Equal(t, int32(1), f.resets.Load())
}

func TestConnection_ReceivingGauge(t *testing.T) {
	c, _, _ := newTestConnection[string](t, frame.NewLines("\n", 0), func(string) {})
	require.Equal(t, float64(0), testutil.ToFloat64(c.metrics.receiving))
	require.NoError(t, c.Start())
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.receiving))
	require.NoError(t, c.Stop())
	require.Equal(t, float64(0), testutil.ToFloat64(c.metrics.receiving))
}

func TestConnection_MetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := Config{Device: "/dev/ttyTEST", BaudRate: 9600, Logger: quietLogger(), Registerer: reg}

	first := New(cfg, frame.NewLines("\n", 0), func(string) {})
	second := New(cfg, frame.NewLines("\n", 0), func(string) {})
	require.NotNil(t, first.metrics)
	require.NotNil(t, second.metrics)
	require.Same(t, first.metrics.bytesSent, second.metrics.bytesSent)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "created", StateCreated.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "unknown", State(9).String())
}
