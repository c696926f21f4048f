package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the wire format for point timestamps: UTC with
// millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Point is one timestamped sensor or production observation. Points
// are immutable; identity is the ID, and two points with the same ID
// are the same logical observation.
type Point struct {
	ID      string  `json:"id"`
	TS      Time    `json:"ts"`
	Tenant  string  `json:"tenant"`
	Plant   string  `json:"plant"`
	Line    string  `json:"line"`
	Machine string  `json:"machine"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Quality int     `json:"q"`
}

// Topic returns the MQTT topic a point is published on.
func (p Point) Topic() string {
	return "v1/" + p.Tenant + "/" + p.Plant + "/" + p.Line + "/" + p.Machine + "/" + p.Metric
}

// CommandTopic returns the command topic for a tenant/plant pair.
func CommandTopic(tenant, plant string) string {
	return "v1/" + tenant + "/" + plant + "/cmd"
}

// Validate checks the fields required for publication and delivery.
func (p Point) Validate() error {
	if p.ID == "" {
		return errors.New("telemetry: empty point id")
	}
	if p.Tenant == "" || p.Plant == "" || p.Line == "" || p.Machine == "" {
		return errors.New("telemetry: incomplete point address")
	}
	if p.Metric == "" {
		return errors.New("telemetry: empty metric name")
	}
	if p.TS.IsZero() {
		return errors.New("telemetry: zero timestamp")
	}
	if p.Quality < 0 || p.Quality > 100 {
		return fmt.Errorf("telemetry: quality %d out of range", p.Quality)
	}
	return nil
}

// Time wraps time.Time with the millisecond UTC wire format.
type Time struct {
	time.Time
}

// NewTime truncates to millisecond precision in UTC.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

// MarshalJSON encodes using TimeLayout.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(TimeLayout) + `"`), nil
}

// UnmarshalJSON accepts TimeLayout and falls back to RFC3339.
func (t *Time) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return errors.New("telemetry: invalid timestamp")
	}
	raw = raw[1 : len(raw)-1]
	parsed, err := time.Parse(TimeLayout, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("telemetry: parse timestamp: %w", err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// NewPointID generates a random point identifier.
func NewPointID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hex.EncodeToString(buf[:])
	}
	// UUIDv4 formatting (without external dependency).
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:4]) + "-" +
		hex.EncodeToString(buf[4:6]) + "-" +
		hex.EncodeToString(buf[6:8]) + "-" +
		hex.EncodeToString(buf[8:10]) + "-" +
		hex.EncodeToString(buf[10:])
}
