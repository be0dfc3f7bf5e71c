package tbadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type serverConn struct {
	conn  *websocket.Conn
	token string
	cmd   subscribeCommand
}

func (c *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

type fakeStream struct {
	server *httptest.Server
	conns  chan *serverConn

	mu    sync.Mutex
	count int
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	fs := &fakeStream{conns: make(chan *serverConn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws/plugins/telemetry" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn, token: r.URL.Query().Get("token")}
		if err := conn.ReadJSON(&sc.cmd); err != nil {
			_ = conn.Close()
			return
		}
		fs.mu.Lock()
		fs.count++
		fs.mu.Unlock()
		fs.conns <- sc
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeStream) connections() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.count
}

func (fs *fakeStream) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-fs.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no stream connection")
		return nil
	}
}

func (fs *fakeStream) manager(t *testing.T) *StreamManager {
	t.Helper()
	m, err := NewStreamManager(fs.server.URL, staticToken("tok-1"), WithHandshakeTimeout(time.Second), WithBufferSize(4))
	require.NoError(t, err)
	return m
}

func receive(t *testing.T, ch <-chan telemetry.Sample) telemetry.Sample {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "sample channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no sample received")
		return telemetry.Sample{}
	}
}

func TestSubscribeTwiceKeepsOneConnection(t *testing.T) {
	fs := newFakeStream(t)
	m := fs.manager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := m.Subscribe(ctx, "dev-1")
	require.NoError(t, err)
	sc := fs.next(t)

	_, err = m.Subscribe(ctx, "dev-1")
	require.ErrorIs(t, err, ErrAlreadySubscribed)

	assert.Equal(t, 1, fs.connections())
	assert.Equal(t, "tok-1", sc.token)
	require.Len(t, sc.cmd.TsSubCmds, 1)
	assert.Equal(t, subscriptionCmd{EntityType: "DEVICE", EntityID: "dev-1", Scope: "LATEST_TELEMETRY", CmdID: 1}, sc.cmd.TsSubCmds[0])
	assert.Equal(t, StateOpen, sub.State())
	assert.True(t, m.Subscribed("dev-1"))
}

func TestSubscriptionSurvivesMalformedFramesInOrder(t *testing.T) {
	fs := newFakeStream(t)
	m := fs.manager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := m.Subscribe(ctx, "dev-1")
	require.NoError(t, err)
	sc := fs.next(t)

	sc.send(t, `{"subscriptionId":1,"data":{"temp":[[1000,"85"]],"humidity":[[1000,"40"]]}}`)
	sc.send(t, `not json`)
	sc.send(t, `{"subscriptionId":1,"errorCode":0,"data":null}`)
	sc.send(t, `{"subscriptionId":1,"data":{"temp":[[2000,"86"]]}}`)

	first := receive(t, sub.Samples())
	second := receive(t, sub.Samples())
	third := receive(t, sub.Samples())

	assert.Equal(t, telemetry.Sample{Key: "temp", TS: 1000, Value: telemetry.NumberValue(85)}, first)
	assert.Equal(t, telemetry.Sample{Key: "humidity", TS: 1000, Value: telemetry.NumberValue(40)}, second)
	assert.Equal(t, telemetry.Sample{Key: "temp", TS: 2000, Value: telemetry.NumberValue(86)}, third)
	assert.Equal(t, StateOpen, sub.State())
}

func TestListenRecoversFromHandlerPanic(t *testing.T) {
	fs := newFakeStream(t)
	m := fs.manager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan telemetry.Sample, 2)
	err := m.Listen(ctx, "dev-1", func(_ context.Context, deviceID string, s telemetry.Sample) {
		assert.Equal(t, "dev-1", deviceID)
		if s.TS == 1000 {
			panic("handler exploded")
		}
		got <- s
	})
	require.NoError(t, err)
	sc := fs.next(t)

	sc.send(t, `{"data":{"temp":[[1000,"85"]]}}`)
	sc.send(t, `{"data":{"temp":[[2000,"86"]]}}`)

	s := receive(t, got)
	assert.Equal(t, int64(2000), s.TS)
}

func TestRemoteCloseIsTerminal(t *testing.T) {
	fs := newFakeStream(t)
	m := fs.manager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := m.Subscribe(ctx, "dev-1")
	require.NoError(t, err)
	sc := fs.next(t)

	_ = sc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = sc.conn.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
	_, open := <-sub.Samples()
	assert.False(t, open)
	assert.Equal(t, StateClosed, sub.State())
	assert.Error(t, sub.Err())

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, StateClosed, snapshot[0].State)
	assert.NotEmpty(t, snapshot[0].Error)

	_, err = m.Subscribe(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.Equal(t, 1, fs.connections())
}

func TestContextCancellationClosesStream(t *testing.T) {
	fs := newFakeStream(t)
	m := fs.manager(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx, "dev-1")
	require.NoError(t, err)
	fs.next(t)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close on cancel")
	}
	assert.ErrorIs(t, sub.Err(), context.Canceled)
	m.Wait()
}

func TestSubscribeFailureIsRecorded(t *testing.T) {
	m, err := NewStreamManager("http://127.0.0.1:1", staticToken("tok"), WithHandshakeTimeout(200*time.Millisecond))
	require.NoError(t, err)

	_, err = m.Subscribe(context.Background(), "dev-1")
	require.Error(t, err)

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, StateClosed, snapshot[0].State)

	_, err = m.Subscribe(context.Background(), "dev-1")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestParseFrame(t *testing.T) {
	samples, err := ParseFrame([]byte(`{"data":{"b":[[2,"true"],[1,"x"]],"a":[["3",7.5]]}}`))
	require.NoError(t, err)
	assert.Equal(t, []telemetry.Sample{
		{Key: "b", TS: 2, Value: telemetry.BoolValue(true)},
		{Key: "b", TS: 1, Value: telemetry.StringValue("x")},
		{Key: "a", TS: 3, Value: telemetry.NumberValue(7.5)},
	}, samples)

	samples, err = ParseFrame([]byte(`{"subscriptionId":1}`))
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = ParseFrame([]byte(`{"errorCode":2,"errorMsg":"bad cmd"}`))
	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Equal(t, 2, frameErr.Code)

	_, err = ParseFrame([]byte(`{"data":{"a":[[1]]}}`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"data":[1,2]}`))
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	u, err := streamURL("https://tb.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://tb.example.com/api/ws/plugins/telemetry", u)

	u, err = streamURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/plugins/telemetry", u)

	_, err = streamURL("ftp://x")
	assert.Error(t, err)
}
