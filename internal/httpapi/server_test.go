package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ensemble-labs/ensemble/internal/chat"
	"github.com/ensemble-labs/ensemble/internal/config"
	"github.com/ensemble-labs/ensemble/internal/embedding"
	"github.com/ensemble-labs/ensemble/internal/group"
	"github.com/ensemble-labs/ensemble/internal/memory"
	"github.com/ensemble-labs/ensemble/internal/observability"
	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
	"github.com/ensemble-labs/ensemble/internal/responder"
	"github.com/ensemble-labs/ensemble/internal/tone"
)

func newTestServer(t *testing.T, namespace string) *httptest.Server {
	t.Helper()

	reg := persona.NewRegistry()
	reg.Register(persona.Character{
		ID: "alex", Name: "Alex",
		Traits: persona.Traits{Dominance: 0.8, Agreeableness: 0.8, Openness: 0.5, Extraversion: 0.5, Humor: 0.5},
	})
	reg.Register(persona.Character{
		ID: "bella", Name: "Bella",
		Traits: persona.Traits{Dominance: 0.8, Agreeableness: 0.8, Openness: 0.5, Extraversion: 0.5, Humor: 0.5},
	})

	eng, err := relationship.NewEngine(relationship.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(eng.Close)

	store := memory.NewStore(memory.NewInMemoryIndex(), embedding.NewMockEmbedder(64), eng, memory.Config{})
	tones := tone.NewHeuristic()
	mock := responder.NewMock()
	chats := chat.NewService(reg, store, eng, tones, mock, memory.NewHeuristicExtractor())
	orch := group.New(reg, eng, tones, mock, group.Config{})

	metrics := observability.NewMetrics(namespace + time.Now().Format("150405000000000"))
	perf := observability.NewRoundStageWindow(64)
	srv := New(config.Config{AllowAnyOrigin: true}, orch, chats, store, reg, metrics, perf)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestGroupSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_group_")

	res := postJSON(t, ts.URL+"/v1/group/sessions", map[string]any{
		"session_id":   "s1",
		"user_id":      "u1",
		"participants": []string{"alex", "bella"},
		"topic":        "weekend plans",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	msgRes := postJSON(t, ts.URL+"/v1/group/sessions/s1/messages", map[string]string{
		"content": "what should we do?",
	})
	defer msgRes.Body.Close()
	if msgRes.StatusCode != http.StatusOK {
		t.Fatalf("message status = %d", msgRes.StatusCode)
	}
	var out struct {
		Events []group.ResponseEvent `json:"events"`
	}
	if err := json.NewDecoder(msgRes.Body).Decode(&out); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(out.Events) != 2 {
		t.Fatalf("events = %d, want both characters", len(out.Events))
	}

	stateRes, err := http.Get(ts.URL + "/v1/group/sessions/s1")
	if err != nil {
		t.Fatalf("GET state error = %v", err)
	}
	defer stateRes.Body.Close()
	var st group.State
	if err := json.NewDecoder(stateRes.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(st.Turns) != 3 {
		t.Fatalf("turns = %d, want user turn plus two replies", len(st.Turns))
	}

	speakRes := postJSON(t, ts.URL+"/v1/group/sessions/s1/messages", map[string]string{
		"speaker_id": "alex",
		"content":    "Shall we make a plan?",
	})
	defer speakRes.Body.Close()
	if speakRes.StatusCode != http.StatusOK {
		t.Fatalf("character speaker status = %d", speakRes.StatusCode)
	}
	var spoke struct {
		Events []group.ResponseEvent `json:"events"`
	}
	if err := json.NewDecoder(speakRes.Body).Decode(&spoke); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(spoke.Events) != 1 || spoke.Events[0].CharacterID != "bella" {
		t.Fatalf("events = %+v, want bella replying to alex", spoke.Events)
	}

	endRes := postJSON(t, ts.URL+"/v1/group/sessions/s1/end", nil)
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", endRes.StatusCode)
	}

	goneRes := postJSON(t, ts.URL+"/v1/group/sessions/s1/messages", map[string]string{"content": "anyone?"})
	defer goneRes.Body.Close()
	if goneRes.StatusCode != http.StatusNotFound {
		t.Fatalf("post-end status = %d, want %d", goneRes.StatusCode, http.StatusNotFound)
	}
}

func TestGroupSessionValidation(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_validation_")

	res := postJSON(t, ts.URL+"/v1/group/sessions", map[string]any{
		"user_id":      "u1",
		"participants": []string{},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty participants status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	unknown := postJSON(t, ts.URL+"/v1/group/sessions", map[string]any{
		"user_id":      "u1",
		"participants": []string{"ghost"},
	})
	defer unknown.Body.Close()
	if unknown.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown persona status = %d", unknown.StatusCode)
	}

	missing := postJSON(t, ts.URL+"/v1/group/sessions/nope/messages", map[string]string{"content": "hi"})
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d", missing.StatusCode)
	}
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_chat_")

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{
		"character_id": "alex",
		"user_id":      "u1",
		"message":      "my name is Sam",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", res.StatusCode)
	}
	var reply chat.Reply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Text == "" || reply.Stored == 0 {
		t.Fatalf("reply = %+v", reply)
	}

	bad := postJSON(t, ts.URL+"/v1/chat", map[string]string{
		"character_id": "ghost",
		"message":      "hello",
	})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown character status = %d", bad.StatusCode)
	}
}

func TestRetentionEndpoint(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_retention_")

	res := postJSON(t, ts.URL+"/v1/memory/retention", map[string]string{
		"character_id": "alex",
		"user_id":      "u1",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("retention status = %d", res.StatusCode)
	}
	var out map[string]int
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["removed"] != 0 {
		t.Fatalf("removed = %d on an empty store", out["removed"])
	}

	bad := postJSON(t, ts.URL+"/v1/memory/retention", map[string]string{"character_id": "alex"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d", bad.StatusCode)
	}
}

func TestHealthAndPersonas(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_health_")

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}

	res, err := http.Get(ts.URL + "/v1/personas")
	if err != nil {
		t.Fatalf("GET /v1/personas error = %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Personas []persona.Character `json:"personas"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode personas: %v", err)
	}
	if len(out.Personas) != 2 {
		t.Fatalf("personas = %d, want 2", len(out.Personas))
	}
}

func TestGroupWebSocketStreamsEvents(t *testing.T) {
	ts := newTestServer(t, "test_httpapi_ws_")

	res := postJSON(t, ts.URL+"/v1/group/sessions", map[string]any{
		"session_id":   "s1",
		"user_id":      "u1",
		"participants": []string{"alex"},
	})
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", res.StatusCode)
	}

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/group/sessions/ws?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"content": "hello there"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev group.ResponseEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if ev.CharacterID != "alex" || ev.Kind != group.KindPrimary {
		t.Fatalf("event = %+v", ev)
	}
}
