// fake_cloud_server is a local stand-in for the cloud ingestion
// endpoint: idempotent by point id (200 on first receipt, 409 on
// re-delivery), with optional injected latency and failure rate for
// exercising the edge agent's store-and-forward path.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeCloudServer struct {
	start      time.Time
	latency    time.Duration
	failRate   float64
	hmacSecret []byte
	jwtSecret  []byte

	mu       sync.Mutex
	seen     map[string]bool
	accepted int64
	dupes    int64
	failed   int64
}

func main() {
	addr := getenvDefault("FAKE_CLOUD_ADDR", ":18000")
	latencyMs := getenvIntDefault("FAKE_CLOUD_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_CLOUD_FAIL_RATE", 0)

	srv := &fakeCloudServer{
		start:      time.Now().UTC(),
		latency:    time.Duration(latencyMs) * time.Millisecond,
		failRate:   failRate,
		hmacSecret: []byte(os.Getenv("INGEST_HMAC_SECRET")),
		jwtSecret:  []byte(os.Getenv("INGEST_JWT_SECRET")),
		seen:       make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/ingest", srv.handleIngest)

	log.Printf("fake cloud ingest server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeCloudServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeCloudServer) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"accepted":   s.accepted,
		"duplicates": s.dupes,
		"failed":     s.failed,
		"unique_ids": len(s.seen),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *fakeCloudServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	if len(s.hmacSecret) > 0 {
		if err := s.verifySignature(r, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	if len(s.jwtSecret) > 0 {
		if err := s.verifyToken(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	var point struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &point); err != nil || point.ID == "" {
		http.Error(w, "invalid point", http.StatusBadRequest)
		return
	}

	if s.failRate > 0 && rand.Float64() < s.failRate {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	duplicate := s.seen[point.ID]
	s.seen[point.ID] = true
	if duplicate {
		s.dupes++
	} else {
		s.accepted++
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if duplicate {
		w.WriteHeader(http.StatusConflict)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"id":        point.ID,
		"duplicate": duplicate,
	})
}

func (s *fakeCloudServer) verifySignature(r *http.Request, body []byte) error {
	timestamp := strings.TrimSpace(r.Header.Get("X-Ingest-Timestamp"))
	signature := strings.TrimSpace(r.Header.Get("X-Ingest-Signature"))
	if timestamp == "" || signature == "" {
		return errors.New("missing ingest signature")
	}
	mac := hmac.New(sha256.New, s.hmacSecret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return errors.New("invalid ingest signature")
	}
	return nil
}

func (s *fakeCloudServer) verifyToken(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return errors.New("missing bearer token")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.Parse(strings.TrimPrefix(header, "Bearer "), func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
