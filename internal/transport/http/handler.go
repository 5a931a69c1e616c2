package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/domain"
	"mathblitz-service/internal/metrics"
)

// Handler exposes the coordinator over a thin JSON REST surface. It owns
// no game rules: it parses input, calls the service, and maps errors to
// status codes.
type Handler struct {
	games     *app.GameService
	analytics *app.AnalyticsService
	recorder  *metrics.Recorder
	health    func(ctx context.Context) error
	log       *logrus.Logger
	ws        *WSHandler
}

func NewHandler(games *app.GameService, analytics *app.AnalyticsService, recorder *metrics.Recorder, health func(ctx context.Context) error, log *logrus.Logger) *Handler {
	return &Handler{
		games:     games,
		analytics: analytics,
		recorder:  recorder,
		health:    health,
		log:       log,
		ws:        NewWSHandler(games, log),
	}
}

func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Get("/ws", h.ws.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/games", h.handleCreateGame)
		r.Route("/games/{gameCode}", func(r chi.Router) {
			r.Post("/join", h.handleJoinGame)
			r.Post("/start", h.handleStartGame)
			r.Post("/advance-round", h.handleAdvanceRound)
			r.Post("/rounds/{roundNumber}/submit", h.handleSubmitAnswer)
			r.Get("/state", h.handleGameState)
			r.Get("/report", h.handleGameReport)
			r.Get("/leaderboard", h.handleLeaderboard)
			r.Get("/events", h.handleEvents)
		})
		r.Get("/analytics", h.handleAnalytics)
		r.Get("/monitoring/metrics", h.handleMetrics)
	})
	return r
}

type displayNameRequest struct {
	DisplayName string `json:"displayName"`
}

type submitAnswerRequest struct {
	PlayerID    string   `json:"playerId"`
	Answer      *float64 `json:"answer"`
	TimeTakenMs *int     `json:"timeTakenMs"`
}

func (h *Handler) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req displayNameRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	name := req.DisplayName
	if name == "" {
		name = "Player"
	}

	creds, err := h.games.CreateGame(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, creds)
}

func (h *Handler) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req displayNameRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	name := req.DisplayName
	if name == "" {
		name = "Player"
	}

	creds, err := h.games.JoinGame(r.Context(), chi.URLParam(r, "gameCode"), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, creds)
}

func (h *Handler) handleStartGame(w http.ResponseWriter, r *http.Request) {
	if err := h.games.StartGame(r.Context(), chi.URLParam(r, "gameCode")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (h *Handler) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	if err := h.games.AdvanceRoundIfNeeded(r.Context(), chi.URLParam(r, "gameCode")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"advanced": true})
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	roundNumber, err := strconv.Atoi(chi.URLParam(r, "roundNumber"))
	if err != nil {
		h.writeBadRequest(w, "roundNumber must be an integer")
		return
	}
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid request body")
		return
	}
	if req.Answer == nil || req.PlayerID == "" {
		h.writeBadRequest(w, "answer (number) and playerId (string) are required")
		return
	}

	result, err := h.games.SubmitAnswer(r.Context(), chi.URLParam(r, "gameCode"), roundNumber, req.PlayerID, *req.Answer, req.TimeTakenMs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGameState(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		h.writeBadRequest(w, "playerId query param required")
		return
	}
	state, err := h.games.GetGameState(r.Context(), chi.URLParam(r, "gameCode"), playerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleGameReport(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		h.writeBadRequest(w, "playerId query param required")
		return
	}
	report, err := h.games.GetGameReport(r.Context(), chi.URLParam(r, "gameCode"), playerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.games.GetLeaderboard(r.Context(), chi.URLParam(r, "gameCode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}
	events, err := h.games.Events(r.Context(), chi.URLParam(r, "gameCode"), since)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "analytics requires a database"})
		return
	}
	dashboard, err := h.analytics.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "Unhealthy"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.WithError(err).Warn("write response")
	}
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsConflict(err):
		status = http.StatusConflict
	default:
		h.recorder.APIError()
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
