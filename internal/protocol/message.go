// Package protocol defines the rosbridge v2 JSON messages exchanged with the
// robot's ROS graph
package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/teslashibe/go-wallfollow/internal/scan"
)

// Op identifies a rosbridge operation
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpAdvertise   Op = "advertise"
	OpUnadvertise Op = "unadvertise"
	OpPublish     Op = "publish"
	OpStatus      Op = "status"
)

// ROS message type names
const (
	TypeLaserScan = "sensor_msgs/msg/LaserScan"
	TypeString    = "std_msgs/msg/String"
	TypeTwist     = "geometry_msgs/msg/Twist"
)

// Message is the envelope for every rosbridge operation. For "status"
// frames Msg holds a JSON string rather than an object.
type Message struct {
	Op           Op              `json:"op"`
	ID           string          `json:"id,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	Type         string          `json:"type,omitempty"`
	Msg          json.RawMessage `json:"msg,omitempty"`
	QueueLength  int             `json:"queue_length,omitempty"`
	ThrottleRate int             `json:"throttle_rate,omitempty"`
	Level        string          `json:"level,omitempty"`
}

func newID(op Op) string {
	return string(op) + ":" + uuid.NewString()
}

// NewSubscribe creates a subscribe request. throttleMs of 0 disables throttling.
func NewSubscribe(topic, msgType string, queueLength, throttleMs int) *Message {
	return &Message{
		Op:           OpSubscribe,
		ID:           newID(OpSubscribe),
		Topic:        topic,
		Type:         msgType,
		QueueLength:  queueLength,
		ThrottleRate: throttleMs,
	}
}

// NewUnsubscribe creates an unsubscribe request
func NewUnsubscribe(topic string) *Message {
	return &Message{Op: OpUnsubscribe, ID: newID(OpUnsubscribe), Topic: topic}
}

// NewAdvertise announces that this client will publish on topic
func NewAdvertise(topic, msgType string) *Message {
	return &Message{
		Op:    OpAdvertise,
		ID:    newID(OpAdvertise),
		Topic: topic,
		Type:  msgType,
	}
}

// NewUnadvertise withdraws a previous advertise
func NewUnadvertise(topic string) *Message {
	return &Message{Op: OpUnadvertise, ID: newID(OpUnadvertise), Topic: topic}
}

// NewPublish creates a publish frame carrying msg
func NewPublish(topic string, msg interface{}) (*Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}

	return &Message{Op: OpPublish, Topic: topic, Msg: raw}, nil
}

// ParseData unmarshals the message payload into v
func (m *Message) ParseData(v interface{}) error {
	if m.Msg == nil {
		return fmt.Errorf("%s frame on %q has no payload", m.Op, m.Topic)
	}
	return json.Unmarshal(m.Msg, v)
}

// StatusText returns the text of a status frame
func (m *Message) StatusText() string {
	var text string
	if err := json.Unmarshal(m.Msg, &text); err != nil {
		return string(m.Msg)
	}
	return text
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a rosbridge frame
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Op == "" {
		return nil, fmt.Errorf("message has no op")
	}
	return &msg, nil
}

// Time is builtin_interfaces/msg/Time
type Time struct {
	Sec     int64  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// Header is std_msgs/msg/Header
type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// LaserScan is sensor_msgs/msg/LaserScan. rosbridge encodes non-finite
// ranges as null.
type LaserScan struct {
	Header         Header     `json:"header"`
	AngleMin       float64    `json:"angle_min"`
	AngleMax       float64    `json:"angle_max"`
	AngleIncrement float64    `json:"angle_increment"`
	TimeIncrement  float64    `json:"time_increment"`
	ScanTime       float64    `json:"scan_time"`
	RangeMin       float64    `json:"range_min"`
	RangeMax       float64    `json:"range_max"`
	Ranges         []*float64 `json:"ranges"`
	Intensities    []*float64 `json:"intensities,omitempty"`
}

// Sweep converts the scan, mapping null ranges to +Inf
func (l *LaserScan) Sweep() scan.Sweep {
	ranges := make([]float64, len(l.Ranges))
	for i, r := range l.Ranges {
		if r == nil {
			ranges[i] = math.Inf(1)
			continue
		}
		ranges[i] = *r
	}

	return scan.Sweep{
		AngleMin:       l.AngleMin,
		AngleIncrement: l.AngleIncrement,
		Ranges:         ranges,
		RangeMin:       l.RangeMin,
		RangeMax:       l.RangeMax,
	}
}

// NewLaserScan builds a LaserScan from a sweep, encoding non-finite ranges as null
func NewLaserScan(s scan.Sweep, frameID string) LaserScan {
	ranges := make([]*float64, len(s.Ranges))
	for i := range s.Ranges {
		r := s.Ranges[i]
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		ranges[i] = &r
	}

	angleMax := s.AngleMin
	if n := len(s.Ranges); n > 0 {
		angleMax = s.Angle(n - 1)
	}

	return LaserScan{
		Header:         Header{FrameID: frameID},
		AngleMin:       s.AngleMin,
		AngleMax:       angleMax,
		AngleIncrement: s.AngleIncrement,
		RangeMin:       s.RangeMin,
		RangeMax:       s.RangeMax,
		Ranges:         ranges,
	}
}

// String is std_msgs/msg/String
type String struct {
	Data string `json:"data"`
}

// GetLaserScan extracts a LaserScan from a publish frame
func (m *Message) GetLaserScan() (*LaserScan, error) {
	var data LaserScan
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetString extracts a std_msgs/String from a publish frame
func (m *Message) GetString() (*String, error) {
	var data String
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
