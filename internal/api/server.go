// Package api implements the HTTP surface for the discovery flow.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/foyerhq/foyer/internal/buildinfo"
	"github.com/foyerhq/foyer/internal/discovery"
	"github.com/foyerhq/foyer/internal/session"
)

// defaultHistoryTurns bounds the transcript window handed to the
// classifier when no override is configured.
const defaultHistoryTurns = 6

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	engine       *discovery.Engine
	sessions     *session.Store
	historyTurns int
	logger       *slog.Logger
	server       *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, engine *discovery.Engine, sessions *session.Store, logger *slog.Logger) *Server {
	return &Server{
		address:      address,
		port:         port,
		engine:       engine,
		sessions:     sessions,
		historyTurns: defaultHistoryTurns,
		logger:       logger,
	}
}

// SetHistoryTurns overrides how many recent transcript lines accompany
// each classifier request.
func (s *Server) SetHistoryTurns(n int) {
	if n > 0 {
		s.historyTurns = n
	}
}

// routes builds the request mux. Split from Start so tests can mount
// the handlers on an httptest server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Discovery endpoints
	mux.HandleFunc("POST /v1/discovery/turn", s.handleTurn)
	mux.HandleFunc("GET /v1/discovery/ws", s.handleWS)

	// Session endpoints
	mux.HandleFunc("GET /v1/discovery/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /v1/discovery/sessions/{id}/export", s.handleSessionExport)
	mux.HandleFunc("DELETE /v1/discovery/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /v1/discovery/stats", s.handleStats)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // LLM classify + reply can be slow on small hardware
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Foyer",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// TurnRequest submits one visitor utterance.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// TurnResponse is the engine's verdict for one turn.
type TurnResponse struct {
	ConversationID    string `json:"conversation_id"`
	Reply             string `json:"reply"`
	Stage             string `json:"stage"`
	Action            string `json:"action"`
	FailsafeTriggered bool   `json:"failsafe_triggered"`
	Name              string `json:"name,omitempty"`
	Intent            string `json:"intent,omitempty"`
	Turns             int    `json:"turns"`
}

// handleTurn evaluates one discovery turn.
// POST /v1/discovery/turn {"message": "hi, I'm Sarah"}
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.runTurn(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.logger.Error("turn evaluation failed", "conversation", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "turn failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// runTurn is the shared evaluation path behind the HTTP and WebSocket
// endpoints: load state, evaluate, persist state and both transcript
// lines. Transcript append failures degrade to a warning; the turn's
// verdict has already been reached and losing one audit line is better
// than failing the visitor.
func (s *Server) runTurn(ctx context.Context, conversationID, message string) (TurnResponse, error) {
	if conversationID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return TurnResponse{}, fmt.Errorf("generate conversation id: %w", err)
		}
		conversationID = id.String()
	}

	st, err := s.sessions.Get(ctx, conversationID)
	if err != nil {
		return TurnResponse{}, err
	}

	recent, err := s.sessions.RecentTurns(ctx, conversationID, s.historyTurns)
	if err != nil {
		return TurnResponse{}, err
	}
	history := make([]discovery.HistoryEntry, len(recent))
	for i, t := range recent {
		history[i] = discovery.HistoryEntry{Role: t.Role, Content: t.Content}
	}

	out, err := s.engine.EvaluateTurn(ctx, st, message, history)
	if err != nil {
		return TurnResponse{}, err
	}

	if err := s.sessions.Save(ctx, out.State); err != nil {
		return TurnResponse{}, err
	}

	if err := s.sessions.AppendTurn(ctx, session.Turn{
		ConversationID: conversationID,
		Role:           "visitor",
		Content:        message,
		Pattern:        string(out.Classification.Pattern),
		Weight:         out.Classification.Weight,
		Source:         out.Classification.Source,
		StageBefore:    string(st.Stage),
		StageAfter:     string(out.State.Stage),
	}); err != nil {
		s.logger.Warn("append visitor turn failed", "conversation", conversationID, "error", err)
	}
	if err := s.sessions.AppendTurn(ctx, session.Turn{
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        out.Reply,
	}); err != nil {
		s.logger.Warn("append assistant turn failed", "conversation", conversationID, "error", err)
	}

	return TurnResponse{
		ConversationID:    conversationID,
		Reply:             out.Reply,
		Stage:             string(out.State.Stage),
		Action:            string(out.Action),
		FailsafeTriggered: out.FailsafeTriggered,
		Name:              out.State.Name,
		Intent:            out.State.Intent,
		Turns:             out.State.Turns,
	}, nil
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load session: "+err.Error())
		return
	}
	// Get hands back a fresh state for unknown conversations; a session
	// lookup should distinguish the two.
	if st.Turns == 0 && st.Stage == discovery.StageCollectingName {
		if turns, terr := s.sessions.Export(r.Context(), id); terr == nil && len(turns) == 0 {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, st, s.logger)
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load session: "+err.Error())
		return
	}
	turns, err := s.sessions.Export(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "export transcript: "+err.Error())
		return
	}
	if len(turns) == 0 {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	switch format {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(id, "md")))
		fmt.Fprint(w, exportMarkdown(st, turns))

	case "html":
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(exportMarkdown(st, turns)), &buf); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "render html: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		buf.WriteTo(w)

	case "json":
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]any{
			"session":    st,
			"transcript": turns,
		}, s.logger)

	default:
		s.errorResponse(w, http.StatusBadRequest, "unsupported format: "+format+" (use markdown, html, or json)")
	}
}

// exportFilename shortens the conversation id the way humans shorten
// UUIDs, keeping filenames manageable.
func exportFilename(id, ext string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("discovery-%s.%s", id, ext)
}

// exportMarkdown renders a session transcript as a readable document.
func exportMarkdown(st discovery.State, turns []session.Turn) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Discovery session %s\n\n", st.ConversationID)
	fmt.Fprintf(&b, "- **Stage:** %s\n", st.Stage)
	if st.Name != "" {
		fmt.Fprintf(&b, "- **Name:** %s\n", st.Name)
	}
	if st.Intent != "" {
		fmt.Fprintf(&b, "- **Intent:** %s\n", st.Intent)
	}
	fmt.Fprintf(&b, "- **Turns:** %d\n", st.Turns)
	fmt.Fprintf(&b, "- **Strikes:** %d honest, %d non-engagement\n\n",
		st.HonestStrikes, st.NonEngagementStrikes)

	b.WriteString("## Transcript\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "**%s:** %s\n\n", t.Role, t.Content)
		if t.Role == "visitor" && t.Pattern != "" {
			fmt.Fprintf(&b, "> %s (weight %d, %s)\n\n", t.Pattern, t.Weight, t.Source)
		}
	}

	return b.String()
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Error("session delete failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.sessions.Stats(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
