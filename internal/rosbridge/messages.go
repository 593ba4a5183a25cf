// Package rosbridge maintains the persistent WebSocket connection to the
// robot's onboard rosbridge message bus and exposes publish/subscribe
// primitives over it. The wire protocol is JSON frames tagged by an "op"
// field; this file defines the frame union and the message schemas the
// server publishes.
package rosbridge

import "encoding/json"

// Operation tags of the rosbridge protocol. Inbound frames carrying any
// other tag are rejected with a logged error rather than silently
// ignored.
const (
	opPublish         = "publish"
	opSubscribe       = "subscribe"
	opUnsubscribe     = "unsubscribe"
	opCallService     = "call_service"
	opServiceResponse = "service_response"
	opSetLevel        = "set_level"
)

// Topics and services used by the tour-guide deployment.
const (
	TopicVoice          = "/voice"
	TopicVelocity       = "/mobile_base/commands/velocity"
	TopicNavGoal        = "/move_base_simple/goal"
	TopicTourAssignment = "/web_tour_assignment"
	TopicBatterySensor  = "/mobile_base/sensors/core"
	TopicAmclPose       = "/amcl_pose"
	TopicOdom           = "/odom"

	serviceTopics = "/rosapi/topics"
)

// frame is the decoded form of one rosbridge message, inbound or
// outbound. Only the fields relevant to the tagged op are populated.
type frame struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	Service string          `json:"service,omitempty"`
	Args    map[string]any  `json:"args,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Level   string          `json:"level,omitempty"`
}

// Vector3 mirrors geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist mirrors geometry_msgs/Twist, the robot's velocity command.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Quaternion mirrors geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Point mirrors geometry_msgs/Point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose mirrors geometry_msgs/Pose.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Stamp is a ROS timestamp (seconds + nanoseconds).
type Stamp struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec"`
}

// Header mirrors std_msgs/Header.
type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// PoseStamped mirrors geometry_msgs/PoseStamped, used for navigation
// goals in the map frame.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// StringMsg mirrors std_msgs/String.
type StringMsg struct {
	Data string `json:"data"`
}

// sensorState is the subset of kobuki_msgs/SensorState the battery
// monitor reads. The raw battery value ranges roughly 0–164.
type sensorState struct {
	Battery *float64 `json:"battery"`
}

// poseWithCovariance is the subset of the amcl/odom messages needed to
// report the robot's last known location.
type poseWithCovariance struct {
	Pose struct {
		Pose Pose `json:"pose"`
	} `json:"pose"`
}

// topicsResult is the payload of the /rosapi/topics service response.
type topicsResult struct {
	Topics []string `json:"topics"`
}

// TourAssignment is the payload pushed to the robot on
// /web_tour_assignment once a PIN has been verified. It is wrapped in a
// std_msgs/String frame with the JSON document as its data field, which
// is what the robot-side client expects.
type TourAssignment struct {
	RobotName string `json:"robot_id"`
	TourID    string `json:"tour_id"`
	TourName  string `json:"tour_name"`
	Waypoints any    `json:"waypoints"`
	PIN       string `json:"pin"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}
