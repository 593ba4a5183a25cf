package rosbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/museovivo/robot-tour-server/internal/queue"
)

// ErrNotConnected is returned by publish/subscribe operations while the
// link is down. Robot-command endpoints translate it into HTTP 503.
var ErrNotConnected = errors.New("rosbridge: not connected")

// Notifier receives lifecycle notifications from the link. Delivery is
// fire-and-forget; the link never blocks on it.
type Notifier interface {
	Notify(kind string, data map[string]any)
}

// Handler consumes messages published on a subscribed topic.
type Handler func(msg json.RawMessage)

type subscription struct {
	msgType string
	handler Handler
}

// Link is the process-wide connection to the robot's rosbridge bus. It
// is constructed once at startup, injected into the handlers that need
// it, and closed on shutdown. All exported methods are safe for
// concurrent use.
//
// Exactly one handler is retained per topic: re-subscribing replaces the
// previous handler (last registration wins). Publishing is
// fire-and-forget; no delivery acknowledgment is modeled.
type Link struct {
	url      string
	notifier Notifier

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	dialing   bool
	wasDown   bool // a disconnect edge happened since the last connect
	lastPing  time.Time
	topics    []string
	subs      map[string]subscription
	amclPose  *Pose
	odomPose  *Pose

	battery batteryMonitor

	done chan struct{}
	once sync.Once
}

// New returns an unconnected Link. Call Connect to open the transport
// and Run to keep it reconnected.
func New(url string, notifier Notifier) *Link {
	l := &Link{
		url:      url,
		notifier: notifier,
		subs:     make(map[string]subscription),
		done:     make(chan struct{}),
	}
	l.battery.link = l
	l.battery.level = 100
	return l
}

// Connect opens the transport. It is idempotent: calling while already
// connecting or connected is a no-op. On success the link refreshes the
// topic listing, re-registers standing subscriptions (pose snapshots and
// battery telemetry) and starts the read loop.
func (l *Link) Connect() error {
	l.mu.Lock()
	if l.connected || l.dialing {
		l.mu.Unlock()
		return nil
	}
	l.dialing = true
	l.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(l.url, nil)

	l.mu.Lock()
	l.dialing = false
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("rosbridge: dial %s: %w", l.url, err)
	}
	l.conn = conn
	l.connected = true
	// Last-ping starts cleared; only real inbound traffic sets it.
	l.lastPing = time.Time{}
	reconnected := l.wasDown
	l.wasDown = false
	l.mu.Unlock()

	log.Printf("rosbridge: connected to %s", l.url)
	if reconnected && l.notifier != nil {
		l.notifier.Notify(queue.RobotReconnected, map[string]any{
			"location": l.Location(),
		})
	}

	go l.readLoop(conn)

	l.requestTopics()
	l.resubscribe()
	l.battery.setup()
	return nil
}

// Run drives the reconnection policy: a fixed-interval timer that
// attempts Connect only while disconnected. No backoff, no jitter, no
// retry cap; reconnection is attempted indefinitely until Close. The
// interval is 30s in production.
func (l *Link) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if l.Connected() {
				continue
			}
			log.Printf("rosbridge: attempting reconnect")
			if err := l.Connect(); err != nil {
				log.Printf("rosbridge: reconnect failed: %v", err)
			}
		}
	}
}

// Close stops the robot, tears down the connection and stops the
// reconnect loop. Safe to call more than once.
func (l *Link) Close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.Stop() // halt the robot before dropping the link
		l.mu.Lock()
		conn := l.conn
		l.conn = nil
		l.connected = false
		l.subs = make(map[string]subscription)
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		log.Printf("rosbridge: disconnected")
	})
}

// Connected reports the current link state.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Publish sends a message on a topic. It fails with ErrNotConnected
// while the link is down; otherwise the payload is enqueued for
// immediate send with no delivery acknowledgment.
func (l *Link) Publish(topic, msgType string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return l.write(frame{Op: opPublish, Topic: topic, Type: msgType, Msg: raw})
}

// Subscribe registers exactly one handler for a topic, replacing any
// previous handler. It fails with ErrNotConnected while the link is
// down.
func (l *Link) Subscribe(topic, msgType string, h Handler) error {
	if err := l.write(frame{Op: opSubscribe, Topic: topic, Type: msgType}); err != nil {
		return err
	}
	l.mu.Lock()
	l.subs[topic] = subscription{msgType: msgType, handler: h}
	l.mu.Unlock()
	return nil
}

// Unsubscribe removes the topic's handler. Safe to call on a topic with
// no handler; a send failure while disconnected only means there is no
// remote registration left to remove.
func (l *Link) Unsubscribe(topic string) {
	_ = l.write(frame{Op: opUnsubscribe, Topic: topic})
	l.mu.Lock()
	delete(l.subs, topic)
	l.mu.Unlock()
}

// write marshals and sends one frame while holding the connection lock;
// gorilla/websocket allows at most one concurrent writer.
func (l *Link) write(f frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.conn == nil {
		return ErrNotConnected
	}
	return l.conn.WriteJSON(f)
}

// requestTopics asks rosapi for the current topic listing.
func (l *Link) requestTopics() {
	if err := l.write(frame{Op: opCallService, Service: serviceTopics, Args: map[string]any{}}); err != nil {
		log.Printf("rosbridge: topic listing request failed: %v", err)
	}
}

// resubscribe replays standing subscriptions after a (re)connect. The
// pose topics are always tracked so the last known location survives
// reconnects.
func (l *Link) resubscribe() {
	l.mu.Lock()
	if _, ok := l.subs[TopicAmclPose]; !ok {
		l.subs[TopicAmclPose] = subscription{msgType: "geometry_msgs/PoseWithCovarianceStamped"}
	}
	if _, ok := l.subs[TopicOdom]; !ok {
		l.subs[TopicOdom] = subscription{msgType: "nav_msgs/Odometry"}
	}
	pending := make(map[string]subscription, len(l.subs))
	for t, s := range l.subs {
		pending[t] = s
	}
	l.mu.Unlock()

	for topic, sub := range pending {
		if err := l.write(frame{Op: opSubscribe, Topic: topic, Type: sub.msgType}); err != nil {
			log.Printf("rosbridge: resubscribe %s failed: %v", topic, err)
		}
	}
}

func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.handleDisconnect(conn, err)
			return
		}
		l.handleMessage(data)
	}
}

// handleDisconnect flips the link to disconnected and emits
// ROBOT_DISCONNECTED exactly once per connected→disconnected edge. A
// close event while already down emits nothing.
func (l *Link) handleDisconnect(conn *websocket.Conn, cause error) {
	l.mu.Lock()
	if l.conn != conn {
		// A newer connection already replaced this one.
		l.mu.Unlock()
		return
	}
	wasConnected := l.connected
	l.connected = false
	l.conn = nil
	if wasConnected {
		l.wasDown = true
	}
	l.mu.Unlock()
	_ = conn.Close()

	if wasConnected {
		log.Printf("rosbridge: connection closed: %v", cause)
		if l.notifier != nil {
			l.notifier.Notify(queue.RobotDisconnected, map[string]any{
				"lastLocation": l.Location(),
			})
		}
	}
}

// handleMessage dispatches one inbound frame by its op tag. Unknown
// tags are rejected explicitly.
func (l *Link) handleMessage(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("rosbridge: dropping malformed frame: %v", err)
		return
	}
	switch f.Op {
	case opPublish:
		l.handlePublish(f)
	case opServiceResponse:
		l.handleServiceResponse(f)
	case opSetLevel:
		log.Printf("rosbridge: level set to %s", f.Level)
	case opSubscribe, opUnsubscribe, opCallService:
		// Client-direction ops echoed back by some bridges; nothing to do.
	default:
		log.Printf("rosbridge: rejecting frame with unknown op %q", f.Op)
	}
}

func (l *Link) handlePublish(f frame) {
	l.mu.Lock()
	l.lastPing = time.Now().UTC()
	switch f.Topic {
	case TopicAmclPose:
		if p := decodePose(f.Msg); p != nil {
			l.amclPose = p
		}
	case TopicOdom:
		if p := decodePose(f.Msg); p != nil {
			l.odomPose = p
		}
	}
	sub, ok := l.subs[f.Topic]
	l.mu.Unlock()

	if ok && sub.handler != nil {
		sub.handler(f.Msg)
	}
}

func (l *Link) handleServiceResponse(f frame) {
	if f.Service != serviceTopics {
		return
	}
	var res topicsResult
	if err := json.Unmarshal(f.Values, &res); err != nil {
		log.Printf("rosbridge: bad topic listing: %v", err)
		return
	}
	l.mu.Lock()
	l.topics = res.Topics
	l.mu.Unlock()
	log.Printf("rosbridge: %d topics available", len(res.Topics))
}

func decodePose(raw json.RawMessage) *Pose {
	var pc poseWithCovariance
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil
	}
	p := pc.Pose.Pose
	return &p
}

// SendVelocity publishes a Twist on the velocity topic.
func (l *Link) SendVelocity(linearX, angularZ float64) error {
	msg := Twist{
		Linear:  Vector3{X: linearX},
		Angular: Vector3{Z: angularZ},
	}
	return l.Publish(TopicVelocity, "geometry_msgs/Twist", msg)
}

// Stop halts the robot by publishing a zero velocity.
func (l *Link) Stop() error { return l.SendVelocity(0, 0) }

// SendNavigationGoal publishes a map-frame PoseStamped navigation goal.
func (l *Link) SendNavigationGoal(x, y, z float64) error {
	msg := PoseStamped{
		Header: Header{
			Stamp:   Stamp{Sec: time.Now().Unix()},
			FrameID: "map",
		},
		Pose: Pose{
			Position:    Point{X: x, Y: y, Z: z},
			Orientation: Quaternion{W: 1},
		},
	}
	return l.Publish(TopicNavGoal, "geometry_msgs/PoseStamped", msg)
}

// Speak publishes guide text on the voice topic.
func (l *Link) Speak(text string) error {
	return l.Publish(TopicVoice, "std_msgs/String", StringMsg{Data: text})
}

// SendTourAssignment pushes the verified tour's payload to the robot.
// The document is serialized into a std_msgs/String frame.
func (l *Link) SendTourAssignment(a TourAssignment) error {
	a.Timestamp = time.Now().UTC().Format(time.RFC3339)
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return l.Publish(TopicTourAssignment, "std_msgs/String", StringMsg{Data: string(doc)})
}

// Topics returns the last topic listing received from rosapi.
func (l *Link) Topics() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.topics))
	copy(out, l.topics)
	return out
}

// Location renders the robot's last known position, preferring the
// localized (amcl) pose over raw odometry.
func (l *Link) Location() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.amclPose != nil {
		return fmt.Sprintf("X: %.2f, Y: %.2f", l.amclPose.Position.X, l.amclPose.Position.Y)
	}
	if l.odomPose != nil {
		return fmt.Sprintf("Odometry X: %.2f, Y: %.2f", l.odomPose.Position.X, l.odomPose.Position.Y)
	}
	return "unknown"
}

// Status is a point-in-time snapshot of the link for the console.
type Status struct {
	Connected         bool          `json:"connected"`
	URL               string        `json:"rosbridge_url"`
	LastPing          *time.Time    `json:"last_ping,omitempty"`
	TopicsCount       int           `json:"topics_count"`
	ActiveSubscribers int           `json:"active_subscribers"`
	Battery           BatteryStatus `json:"battery"`
	Location          string        `json:"location"`
}

// Status reports the current connection state, battery and location.
func (l *Link) Status() Status {
	loc := l.Location()
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		Connected:         l.connected,
		URL:               l.url,
		TopicsCount:       len(l.topics),
		ActiveSubscribers: len(l.subs),
		Battery:           l.battery.status(),
		Location:          loc,
	}
	if !l.lastPing.IsZero() {
		t := l.lastPing
		s.LastPing = &t
	}
	return s
}

// BatteryStatus exposes the battery monitor state.
func (l *Link) BatteryStatus() BatteryStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.battery.status()
}
