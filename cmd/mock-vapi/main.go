// mock-vapi is a local stand-in for the voice-campaign platform. It accepts
// the same endpoints the real API exposes, keeps campaigns in memory, and can
// inject failures for dispatch testing.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port    string `envconfig:"PORT" default:"8081"`
	APIKey  string `envconfig:"MOCK_VAPI_API_KEY" default:"mock_key"`
	DelayMs int    `envconfig:"MOCK_DELAY_MS" default:"0"`

	// fraction of campaign creates that fail with a 500
	FailureRate float64 `envconfig:"MOCK_FAILURE_RATE" default:"0"`
	// phone-number ids the mock treats as known; empty accepts everything
	KnownNumbersRaw string `envconfig:"MOCK_KNOWN_NUMBERS" default:""`

	KnownNumbers map[string]bool
	Delay        time.Duration
}

type campaign struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	PhoneNumberID string     `json:"phoneNumberId"`
	AssistantID   string     `json:"assistantId,omitempty"`
	WorkflowID    string     `json:"workflowId,omitempty"`
	Customers     []customer `json:"customers"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type customer struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number"`
	Email  string `json:"email,omitempty"`
}

type server struct {
	cfg config
	idx uint64

	mu        sync.Mutex
	campaigns map[string]*campaign
	rng       *rand.Rand
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock vapi config load failed", "err", err)
		os.Exit(1)
	}
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.KnownNumbers = map[string]bool{}
	for _, id := range strings.Split(cfg.KnownNumbersRaw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.KnownNumbers[id] = true
		}
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	s := &server{
		cfg:       cfg,
		campaigns: map[string]*campaign{},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	router := mux.NewRouter()
	router.HandleFunc("/phone-number/{id}", s.handlePhoneNumber).Methods(http.MethodGet)
	router.HandleFunc("/campaign", s.handleCreateCampaign).Methods(http.MethodPost)
	router.HandleFunc("/campaign/{id}", s.handleGetCampaign).Methods(http.MethodGet)
	router.HandleFunc("/campaign/{id}", s.handlePatchCampaign).Methods(http.MethodPatch)

	slog.Info("mock vapi listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, logging(router)); err != nil {
		slog.Error("mock vapi server failed", "err", err)
		os.Exit(1)
	}
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("mock vapi request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) authed(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Delay > 0 {
		time.Sleep(s.cfg.Delay)
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got != s.cfg.APIKey {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return false
	}
	return true
}

func (s *server) handlePhoneNumber(w http.ResponseWriter, r *http.Request) {
	if !s.authed(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	if len(s.cfg.KnownNumbers) > 0 && !s.cfg.KnownNumbers[id] {
		writeError(w, http.StatusNotFound, "phone number not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

func (s *server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	if !s.authed(w, r) {
		return
	}
	var req struct {
		Name          string     `json:"name"`
		PhoneNumberID string     `json:"phoneNumberId"`
		AssistantID   string     `json:"assistantId"`
		WorkflowID    string     `json:"workflowId"`
		Customers     []customer `json:"customers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PhoneNumberID == "" || len(req.Customers) == 0 {
		writeError(w, http.StatusBadRequest, "phoneNumberId and customers are required")
		return
	}

	s.mu.Lock()
	fail := s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate
	s.mu.Unlock()
	if fail {
		writeError(w, http.StatusInternalServerError, "injected failure")
		return
	}

	c := &campaign{
		ID:            fmt.Sprintf("cmp_%06d", atomic.AddUint64(&s.idx, 1)),
		Name:          req.Name,
		Status:        "scheduled",
		PhoneNumberID: req.PhoneNumberID,
		AssistantID:   req.AssistantID,
		WorkflowID:    req.WorkflowID,
		Customers:     req.Customers,
		CreatedAt:     time.Now().UTC(),
	}
	s.mu.Lock()
	s.campaigns[c.ID] = c
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	if !s.authed(w, r) {
		return
	}
	s.mu.Lock()
	c, ok := s.campaigns[mux.Vars(r)["id"]]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handlePatchCampaign(w http.ResponseWriter, r *http.Request) {
	if !s.authed(w, r) {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	c.Status = req.Status
	writeJSON(w, http.StatusOK, c)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
