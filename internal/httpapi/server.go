package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ensemble-labs/ensemble/internal/chat"
	"github.com/ensemble-labs/ensemble/internal/config"
	"github.com/ensemble-labs/ensemble/internal/fault"
	"github.com/ensemble-labs/ensemble/internal/group"
	"github.com/ensemble-labs/ensemble/internal/memory"
	"github.com/ensemble-labs/ensemble/internal/observability"
	"github.com/ensemble-labs/ensemble/internal/persona"
)

type Server struct {
	cfg      config.Config
	orch     *group.Orchestrator
	chats    *chat.Service
	memories *memory.Store
	registry *persona.Registry
	metrics  *observability.Metrics
	perf     *observability.RoundStageWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, orch *group.Orchestrator, chats *chat.Service, memories *memory.Store, registry *persona.Registry, metrics *observability.Metrics, perf *observability.RoundStageWindow) *Server {
	return &Server{
		cfg:      cfg,
		orch:     orch,
		chats:    chats,
		memories: memories,
		registry: registry,
		metrics:  metrics,
		perf:     perf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/personas", s.handleListPersonas)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/memory/retention", s.handleRetention)

	r.Post("/v1/group/sessions", s.handleCreateGroupSession)
	r.Get("/v1/group/sessions/{id}", s.handleGetGroupSession)
	r.Post("/v1/group/sessions/{id}/messages", s.handleGroupMessage)
	r.Post("/v1/group/sessions/{id}/end", s.handleEndGroupSession)
	r.Get("/v1/group/sessions/ws", s.handleGroupWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"personas": len(s.registry.IDs()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.orch.Len(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.perf == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.perf.Snapshot())
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.IDs()
	out := make([]persona.Character, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.registry.Get(id); ok {
			out = append(out, c)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

type chatRequest struct {
	CharacterID string `json:"character_id"`
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	reply, err := s.chats.Converse(r.Context(), req.CharacterID, req.UserID, req.Message)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.metrics.MemoriesStored.Add(float64(reply.Stored))
	s.metrics.ObserveRoundLatency(time.Since(start))
	s.perf.Observe("round_total", time.Since(start))
	respondJSON(w, http.StatusOK, reply)
}

type retentionRequest struct {
	CharacterID string `json:"character_id"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.CharacterID) == "" || strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "character_id and user_id are required")
		return
	}

	scope := memory.Scope{CharacterID: req.CharacterID, UserID: req.UserID}
	removed, err := s.memories.ApplyRetention(r.Context(), scope)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.metrics.MemoriesRemoved.Add(float64(removed))
	s.perf.ObserveIndicator("retention_pass")
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type createGroupSessionRequest struct {
	SessionID    string   `json:"session_id"`
	UserID       string   `json:"user_id"`
	Participants []string `json:"participants"`
	Topic        string   `json:"topic"`
}

func (s *Server) handleCreateGroupSession(w http.ResponseWriter, r *http.Request) {
	var req createGroupSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	st, err := s.orch.Initialize(r.Context(), req.SessionID, req.UserID, req.Participants, req.Topic)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.metrics.ActiveGroupSessions.Set(float64(s.orch.Len()))
	respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetGroupSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.State(chi.URLParam(r, "id"))
	if err != nil {
		s.respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type groupMessageRequest struct {
	// SpeakerID may name a participant character; blank means the session
	// user is speaking.
	SpeakerID string `json:"speaker_id"`
	Content   string `json:"content"`
}

type groupMessageResponse struct {
	Events []group.ResponseEvent `json:"events"`
}

func (s *Server) handleGroupMessage(w http.ResponseWriter, r *http.Request) {
	var req groupMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	events, err := s.orch.ProcessMessage(r.Context(), chi.URLParam(r, "id"), req.SpeakerID, req.Content)
	for _, ev := range events {
		s.metrics.ResponseEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.metrics.ObserveRoundLatency(time.Since(start))
	s.perf.Observe("round_total", time.Since(start))
	if len(events) == 0 {
		s.perf.ObserveIndicator("empty_round")
	}
	respondJSON(w, http.StatusOK, groupMessageResponse{Events: events})
}

func (s *Server) handleEndGroupSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Close(chi.URLParam(r, "id")); err != nil {
		s.respondFault(w, err)
		return
	}
	s.metrics.ActiveGroupSessions.Set(float64(s.orch.Len()))
	respondJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

// handleGroupWS streams a session's response events over a websocket. The
// client may also send {"content": "..."} frames; each one is processed as
// a user message and its events arrive through the stream.
func (s *Server) handleGroupWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	events, unsubscribe, err := s.orch.Subscribe(sessionID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var req groupMessageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = conn.WriteJSON(errorResponse{Error: err.Error(), Code: "invalid_client_message"})
			continue
		}
		evs, err := s.orch.ProcessMessage(ctx, sessionID, req.SpeakerID, req.Content)
		for _, ev := range evs {
			s.metrics.ResponseEvents.WithLabelValues(string(ev.Kind)).Inc()
		}
		if err != nil {
			_ = conn.WriteJSON(errorResponse{Error: err.Error(), Code: "round_failed"})
			if errors.Is(err, group.ErrSessionNotFound) || errors.Is(err, group.ErrSessionClosed) {
				break
			}
		}
	}
	<-writerDone
}

// respondFault maps domain errors to HTTP statuses: missing sessions to
// 404, validation to 400, closed sessions to 410, dependency failures to
// 502. Dependency failures also count toward the error metrics.
func (s *Server) respondFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, group.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, group.ErrSessionClosed):
		respondError(w, http.StatusGone, "session_closed", err.Error())
	case fault.Is(err, fault.KindValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		kind := fault.KindOf(err)
		if kind == "" {
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		var fe *fault.Error
		dep := ""
		if errors.As(err, &fe) {
			dep = fe.Dep
		}
		s.metrics.DependencyErrors.WithLabelValues(string(kind), dep).Inc()
		respondError(w, http.StatusBadGateway, string(kind)+"_failure", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
