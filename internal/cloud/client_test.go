package cloud

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"factory-edge/internal/faults"
	telemetry "factory-edge/internal/telemetry/domain"
)

func testPoint() telemetry.Point {
	return telemetry.Point{
		ID:      "11111111-2222-4333-8444-555555555555",
		TS:      telemetry.NewTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
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

func TestSendTreatsIngestedStatusesAsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusConflict} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/ingest" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.WriteHeader(status)
		}))

		client, err := NewClient(server.URL, "acme", faults.NewState())
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		if err := client.Send(context.Background(), testPoint()); err != nil {
			t.Errorf("status %d: unexpected error: %v", status, err)
		}
		server.Close()
	}
}

func TestSendFailsOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "acme", faults.NewState())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Send(context.Background(), testPoint()); err == nil {
		t.Fatal("expected error on http 500")
	}
}

func TestSendShortCircuitsDuringOutage(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	state := faults.NewState()
	if err := state.Set(faults.NetworkOutage, true); err != nil {
		t.Fatalf("set outage: %v", err)
	}
	client, err := NewClient(server.URL, "acme", state)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = client.Send(context.Background(), testPoint())
	if !errors.Is(err, ErrNetworkOutage) {
		t.Fatalf("expected ErrNetworkOutage, got %v", err)
	}
	if requests != 0 {
		t.Fatalf("request reached server during outage (%d)", requests)
	}
}

func TestSendHonorsRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "acme", faults.NewState(),
		WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Send(context.Background(), testPoint()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSendSignsAndAuthenticatesRequests(t *testing.T) {
	hmacSecret := []byte("hmac-secret")
	jwtSecret := []byte("jwt-secret")

	var gotTimestamp, gotSignature, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTimestamp = r.Header.Get("X-Ingest-Timestamp")
		gotSignature = r.Header.Get("X-Ingest-Signature")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "acme", faults.NewState(),
		WithHMACSecret(hmacSecret), WithJWTSecret(jwtSecret))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	point := testPoint()
	if err := client.Send(context.Background(), point); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotTimestamp == "" || gotSignature == "" {
		t.Fatal("missing ingest signature headers")
	}
	expected := computeIngestSignature(hmacSecret, gotTimestamp, gotBody)
	if !hmac.Equal([]byte(gotSignature), []byte(expected)) {
		t.Fatalf("signature mismatch: got %s want %s", gotSignature, expected)
	}

	var decoded telemetry.Point
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.ID != point.ID {
		t.Fatalf("body id mismatch: %s", decoded.ID)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	claims := &ingestClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err = parser.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), claims,
		func(*jwt.Token) (any, error) { return jwtSecret, nil })
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.TenantID != "acme" || claims.Role != "ingest" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewClientValidatesInputs(t *testing.T) {
	if _, err := NewClient("", "acme", faults.NewState()); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewClient("http://localhost:8000", "acme", nil); err == nil {
		t.Fatal("expected error for nil fault state")
	}
}
