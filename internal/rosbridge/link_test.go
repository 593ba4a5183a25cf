package rosbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/queue"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingNotifier) Notify(kind string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingNotifier) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.kinds))
	copy(out, r.kinds)
	return out
}

func (r *recordingNotifier) Count(kind string) int {
	n := 0
	for _, k := range r.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// testBridge is a minimal rosbridge double: it accepts one websocket
// client at a time, drains inbound frames and lets the test inject
// outbound ones or kill the connection.
type testBridge struct {
	srv *httptest.Server

	mu   sync.Mutex
	conn *websocket.Conn
}

func newTestBridge(t *testing.T) *testBridge {
	b := &testBridge{}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBridge) send(t *testing.T, v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	require.NotNil(t, conn, "no client connected")
	require.NoError(t, conn.WriteJSON(v))
}

func (b *testBridge) kill() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func TestConnect_IsIdempotent(t *testing.T) {
	bridge := newTestBridge(t)
	link := New(bridge.url(), &recordingNotifier{})
	defer link.Close()

	require.NoError(t, link.Connect())
	require.NoError(t, link.Connect()) // second call is a no-op
	assert.True(t, link.Connected())
}

func TestPublish_FailsWhileDown(t *testing.T) {
	link := New("ws://127.0.0.1:1", &recordingNotifier{})
	defer link.Close()

	err := link.SendVelocity(0.2, 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectEdge_NotifiesExactlyOnce(t *testing.T) {
	bridge := newTestBridge(t)
	notifier := &recordingNotifier{}
	link := New(bridge.url(), notifier)
	defer link.Close()

	require.NoError(t, link.Connect())
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	bridge.kill()
	require.Eventually(t, func() bool { return !link.Connected() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return notifier.Count(queue.RobotDisconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Reconnecting after the edge announces the recovery.
	require.NoError(t, link.Connect())
	assert.Equal(t, 1, notifier.Count(queue.RobotReconnected))
	assert.Equal(t, 1, notifier.Count(queue.RobotDisconnected))
}

func TestServiceResponse_UpdatesTopicListing(t *testing.T) {
	bridge := newTestBridge(t)
	link := New(bridge.url(), &recordingNotifier{})
	defer link.Close()

	require.NoError(t, link.Connect())
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	bridge.send(t, map[string]any{
		"op":      opServiceResponse,
		"service": serviceTopics,
		"values":  map[string]any{"topics": []string{TopicVoice, TopicVelocity}},
	})
	require.Eventually(t, func() bool { return len(link.Topics()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, link.Topics(), TopicVoice)
}

func TestHandleMessage_RejectsUnknownOp(t *testing.T) {
	link := New("ws://unused", &recordingNotifier{})
	defer link.Close()

	// Must not panic or dispatch anything; the rejection is logged.
	link.handleMessage([]byte(`{"op":"fragment","topic":"/voice"}`))
	link.handleMessage([]byte(`not json`))
}

func TestSubscriberDispatch(t *testing.T) {
	bridge := newTestBridge(t)
	link := New(bridge.url(), &recordingNotifier{})
	defer link.Close()

	require.NoError(t, link.Connect())
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	got := make(chan string, 1)
	require.NoError(t, link.Subscribe(TopicVoice, "std_msgs/String", func(msg json.RawMessage) {
		var s StringMsg
		_ = json.Unmarshal(msg, &s)
		got <- s.Data
	}))

	raw, _ := json.Marshal(StringMsg{Data: "hello"})
	bridge.send(t, frame{Op: opPublish, Topic: TopicVoice, Msg: raw})

	select {
	case data := <-got:
		assert.Equal(t, "hello", data)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBatteryThresholds(t *testing.T) {
	notifier := &recordingNotifier{}
	link := New("ws://unused", notifier)
	defer link.Close()
	mon := &link.battery

	reading := func(raw float64) []byte {
		b, _ := json.Marshal(map[string]float64{"battery": raw})
		return b
	}

	mon.handleSensor(reading(41)) // ~25%: above both thresholds
	assert.Empty(t, notifier.Kinds())

	mon.handleSensor(reading(29.5)) // ~18%: low fires once
	assert.Equal(t, 1, notifier.Count(queue.BatteryLow))

	mon.handleSensor(reading(26)) // ~15.9%: still low, no repeat
	assert.Equal(t, 1, notifier.Count(queue.BatteryLow))

	mon.handleSensor(reading(13)) // ~7.9%: critical fires once
	assert.Equal(t, 1, notifier.Count(queue.BatteryCritical))

	mon.handleSensor(reading(13))
	assert.Equal(t, 1, notifier.Count(queue.BatteryCritical))

	mon.handleSensor(reading(45)) // ~27.4%: above reset, alerts re-arm
	mon.handleSensor(reading(29.5))
	assert.Equal(t, 2, notifier.Count(queue.BatteryLow))
}

func TestStatusSnapshot(t *testing.T) {
	bridge := newTestBridge(t)
	link := New(bridge.url(), &recordingNotifier{})
	defer link.Close()

	require.NoError(t, link.Connect())
	s := link.Status()
	assert.True(t, s.Connected)
	assert.Equal(t, bridge.url(), s.URL)
	assert.Equal(t, "unknown", s.Location)
	assert.Equal(t, float64(100), s.Battery.Level)
	// No traffic has arrived yet, so the last-ping marker stays unset.
	assert.Nil(t, s.LastPing)
}
