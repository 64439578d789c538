package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies the physical sensor an event originated from.
type Source string

const (
	SourceCam0  Source = "cam0"
	SourceCam10 Source = "cam10"
	SourceAudio Source = "audio"
)

// Type is the event kind; it determines the payload shape together
// with the source.
type Type string

const (
	TypeCameraDetection Type = "camera_detection"
	TypeNoiseLevel      Type = "noise_level"
)

// Payload is the variant part of an event. Exactly one concrete shape
// exists per (source, type) pair.
type Payload interface {
	payload()
}

// DetectionPayload carries people counting and accident detection
// results from cam0.
type DetectionPayload struct {
	Camera           string  `json:"camera"`
	PeopleCount      int     `json:"people_count"`
	AccidentDetected bool    `json:"accident_detected"`
	AccidentType     string  `json:"accident_type,omitempty"`
	FPS              float64 `json:"fps"`
}

// PPEPayload carries protective-equipment compliance results from cam10.
type PPEPayload struct {
	Camera          string   `json:"camera"`
	PPECompliant    int      `json:"ppe_compliant"`
	PPENonCompliant int      `json:"ppe_non_compliant"`
	TotalDetected   int      `json:"total_detected"`
	MissingItems    []string `json:"missing_items"`
	FPS             float64  `json:"fps"`
}

// NoisePayload carries a measured audio level and its alert flag.
type NoisePayload struct {
	NoiseLevel float64 `json:"noise_level"`
	Threshold  float64 `json:"threshold"`
	Alert      bool    `json:"alert"`
}

func (*DetectionPayload) payload() {}
func (*PPEPayload) payload()       {}
func (*NoisePayload) payload()     {}

// Event is the unit of information flowing through the pipeline.
// Timestamp is set by the producer at capture time; ID and CreatedAt
// are assigned by the store at persistence time.
type Event struct {
	ID        int64
	Source    Source
	Type      Type
	Timestamp time.Time
	CreatedAt time.Time
	Payload   Payload
}

// MarshalJSON emits the flat wire shape: envelope fields plus the
// payload fields inlined at the top level.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["id"] = e.ID
	m["source"] = string(e.Source)
	m["type"] = string(e.Type)
	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	if !e.CreatedAt.IsZero() {
		m["created_at"] = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the flat wire shape back, dispatching the payload
// on (source, type).
func (e *Event) UnmarshalJSON(data []byte) error {
	var env struct {
		ID        int64  `json:"id"`
		Source    Source `json:"source"`
		Type      Type   `json:"type"`
		Timestamp string `json:"timestamp"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.ID = env.ID
	e.Source = env.Source
	e.Type = env.Type
	if env.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, env.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		e.Timestamp = ts
	}
	if env.CreatedAt != "" {
		ca, err := time.Parse(time.RFC3339, env.CreatedAt)
		if err != nil {
			return fmt.Errorf("parse created_at: %w", err)
		}
		e.CreatedAt = ca
	}
	p, err := DecodePayload(env.Source, env.Type, data)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}

// DecodePayload reconstructs the concrete payload for a (source, type)
// pair from JSON carrying at least the payload fields. Envelope keys in
// the input are ignored.
func DecodePayload(source Source, typ Type, data []byte) (Payload, error) {
	var p Payload
	switch {
	case typ == TypeCameraDetection && source == SourceCam0:
		p = &DetectionPayload{}
	case typ == TypeCameraDetection && source == SourceCam10:
		p = &PPEPayload{}
	case typ == TypeNoiseLevel:
		p = &NoisePayload{}
	default:
		return nil, fmt.Errorf("unknown event shape: source=%q type=%q", source, typ)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s/%s payload: %w", source, typ, err)
	}
	return p, nil
}
