package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

var quietLogger = log.New(io.Discard, "", 0)

type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Ping(context.Context) error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fakeDialer hands out transports in order; once exhausted every dial fails.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      atomic.Int64
	dialed     chan *fakeTransport
}

func newFakeDialer(ts ...*fakeTransport) *fakeDialer {
	return &fakeDialer{transports: ts, dialed: make(chan *fakeTransport, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil, errors.New("refused")
	}
	tr := d.transports[0]
	d.transports = d.transports[1:]
	d.dialed <- tr
	return tr, nil
}

func TestConnDeliversFramesInOrder(t *testing.T) {
	tr := newFakeTransport()
	tr.in <- []byte(`{"n":1}`)
	tr.in <- []byte(`not json`)
	tr.in <- []byte(`{"n":2}`)

	c := Open(context.Background(), "ws://test", WithDialer(newFakeDialer(tr)), WithLogger(quietLogger),
		WithPolicy(UserStream(time.Hour)))
	defer c.Close()

	first := <-c.Frames()
	second := <-c.Frames()
	require.JSONEq(t, `{"n":1}`, string(first.Data))
	require.JSONEq(t, `{"n":2}`, string(second.Data))
	require.Nil(t, c.Err())
}

func TestConnReconnectsImmediatelyAfterUnexpectedClose(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	dialer := newFakeDialer(first, second)
	c := Open(context.Background(), "ws://test", WithDialer(dialer), WithLogger(quietLogger),
		WithPolicy(UserStream(time.Hour)))
	defer c.Close()

	require.Same(t, first, <-dialer.dialed)
	first.Close()
	require.Same(t, second, <-dialer.dialed)

	second.in <- []byte(`{"after":"reconnect"}`)
	frame := <-c.Frames()
	require.JSONEq(t, `{"after":"reconnect"}`, string(frame.Data))
	require.EqualValues(t, 2, c.Opens())
}

func TestConnNeverReconnectsAfterClose(t *testing.T) {
	tr := newFakeTransport()
	dialer := newFakeDialer(tr)
	c := Open(context.Background(), "ws://test", WithDialer(dialer), WithLogger(quietLogger))

	<-dialer.dialed
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)
	require.False(t, c.Closing())

	require.NoError(t, c.Close())
	require.True(t, c.Closing())
	require.False(t, c.Connected())
	dials := dialer.dials.Load()

	// The transport was released before Close returned.
	select {
	case <-tr.closed:
	default:
		t.Fatal("transport still open after Close")
	}

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, dials, dialer.dials.Load())
	require.ErrorIs(t, c.Err(), ErrClosed)

	_, ok := <-c.Frames()
	require.False(t, ok)
	require.NoError(t, c.Close())
}

func TestUserStreamPolicyDelaysOnlyWhenNeverOpened(t *testing.T) {
	var delays []time.Duration
	var mu sync.Mutex
	policy := UserStream(3 * time.Second)
	recording := PolicyFunc(func(s State) time.Duration {
		d := policy.Delay(s)
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		if d > 0 {
			return time.Millisecond
		}
		return 0
	})

	tr := newFakeTransport()
	dialer := newFakeDialer(tr)
	c := Open(context.Background(), "ws://test", WithDialer(dialer), WithLogger(quietLogger), WithPolicy(recording))
	<-dialer.dialed
	tr.Close()

	require.Eventually(t, func() bool { return dialer.dials.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(delays), 2)
	require.Equal(t, time.Duration(0), delays[0])
	require.Equal(t, 3*time.Second, delays[1])
}

func TestPolicies(t *testing.T) {
	require.Zero(t, Immediate().Delay(State{}))
	require.Zero(t, UserStream(3*time.Second).Delay(State{PriorOpened: true, Attempt: 5}))
	require.Equal(t, 3*time.Second, UserStream(3*time.Second).Delay(State{Attempt: 1}))

	b := Backoff(10*time.Millisecond, 40*time.Millisecond)
	for i := 0; i < 10; i++ {
		d := b.Delay(State{Attempt: i + 1})
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 60*time.Millisecond)
	}
	require.LessOrEqual(t, b.Delay(State{PriorOpened: true}), 15*time.Millisecond)
}

func TestParentCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := newFakeDialer(newFakeTransport())
	c := Open(ctx, "ws://test", WithDialer(dialer), WithLogger(quietLogger))
	<-dialer.dialed
	cancel()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not stop on parent cancel")
	}
	require.ErrorIs(t, c.Err(), ErrClosed)
}

func TestWebsocketTransportReconnects(t *testing.T) {
	var sessions atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := sessions.Add(1)
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"session":`+string(rune('0'+n))+`}`))
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "bye")
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c := Open(context.Background(), url, WithLogger(quietLogger), WithName("test"))
	defer c.Close()

	timeout := time.After(5 * time.Second)
	var got []string
	for len(got) < 2 {
		select {
		case f := <-c.Frames():
			got = append(got, string(f.Data))
		case <-timeout:
			t.Fatalf("frames received: %v", got)
		}
	}
	require.JSONEq(t, `{"session":1}`, got[0])
	require.JSONEq(t, `{"session":2}`, got[1])
	require.GreaterOrEqual(t, c.Opens(), int64(2))
}

// urlDialer records the target of every dial and serves transports from an inner fakeDialer.
type urlDialer struct {
	*fakeDialer
	mu   sync.Mutex
	urls []string
}

func (d *urlDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return d.fakeDialer.Dial(ctx, url)
}

func (d *urlDialer) targets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func TestConnResolvesTargetBeforeEveryDial(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	dialer := &urlDialer{fakeDialer: newFakeDialer(first, second)}
	var resolves atomic.Int64
	resolve := func(context.Context) (string, error) {
		n := resolves.Add(1)
		if n == 1 {
			return "", errors.New("no session")
		}
		return "ws://test/session" + string(rune('0'+n)), nil
	}

	c := Open(context.Background(), "ws://test", WithDialer(dialer), WithLogger(quietLogger),
		WithPolicy(UserStream(time.Millisecond)), WithURLFunc(resolve))
	defer c.Close()

	require.Same(t, first, <-dialer.dialed)
	first.Close()
	require.Same(t, second, <-dialer.dialed)

	// The failed resolve counted as a dial but never reached the transport.
	require.Equal(t, []string{"ws://test/session2", "ws://test/session3"}, dialer.targets())
	require.EqualValues(t, 3, c.Attempts())
}
