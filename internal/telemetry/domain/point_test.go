package telemetry

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

func validPoint() Point {
	return Point{
		ID:      NewPointID(),
		TS:      NewTime(time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)),
		Tenant:  "acme",
		Plant:   "plant-01",
		Line:    "line-01",
		Machine: "cnc-01",
		Metric:  "temp",
		Value:   45.2,
		Unit:    "°C",
		Quality: 100,
	}
}

func TestTopic(t *testing.T) {
	point := validPoint()
	want := "v1/acme/plant-01/line-01/cnc-01/temp"
	if got := point.Topic(); got != want {
		t.Fatalf("topic %q, want %q", got, want)
	}
}

func TestCommandTopic(t *testing.T) {
	want := "v1/acme/plant-01/cmd"
	if got := CommandTopic("acme", "plant-01"); got != want {
		t.Fatalf("command topic %q, want %q", got, want)
	}
}

func TestTimeWireFormat(t *testing.T) {
	point := validPoint()
	data, err := json.Marshal(point)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	// Millisecond precision, UTC, trailing Z.
	if got := string(raw["ts"]); got != `"2026-03-01T12:00:00.123Z"` {
		t.Fatalf("ts wire format %s", got)
	}

	var decoded Point
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal point: %v", err)
	}
	if !decoded.TS.Equal(point.TS.Time) {
		t.Fatalf("timestamp round trip: got %v want %v", decoded.TS, point.TS)
	}
}

func TestTimeAcceptsRFC3339(t *testing.T) {
	var decoded Point
	err := json.Unmarshal([]byte(`{"id":"x","ts":"2026-03-01T12:00:00Z"}`), &decoded)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !decoded.TS.Equal(want) {
		t.Fatalf("timestamp %v, want %v", decoded.TS, want)
	}
}

func TestValidate(t *testing.T) {
	if err := validPoint().Validate(); err != nil {
		t.Fatalf("valid point rejected: %v", err)
	}

	cases := map[string]func(*Point){
		"empty id":       func(p *Point) { p.ID = "" },
		"empty tenant":   func(p *Point) { p.Tenant = "" },
		"empty machine":  func(p *Point) { p.Machine = "" },
		"empty metric":   func(p *Point) { p.Metric = "" },
		"zero timestamp": func(p *Point) { p.TS = Time{} },
		"bad quality":    func(p *Point) { p.Quality = 101 },
	}
	for name, mutate := range cases {
		point := validPoint()
		mutate(&point)
		if err := point.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestNewPointIDFormatAndUniqueness(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewPointID()
		if !pattern.MatchString(id) {
			t.Fatalf("malformed id %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
