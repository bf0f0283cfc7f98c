package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/manpreetbhatti/codearena/internal/arena"
	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/db"
	"github.com/manpreetbhatti/codearena/internal/judge"
	"github.com/manpreetbhatti/codearena/internal/metrics"
	"github.com/manpreetbhatti/codearena/internal/ratelimit"
	"github.com/manpreetbhatti/codearena/internal/room"
	"github.com/manpreetbhatti/codearena/internal/ws"
)

const (
	judgeRequestsPerSecond = 2
	judgeBurst             = 5
	maxBodyBytes           = 1 << 20
)

// Runner compiles and judges source code.
type Runner interface {
	Compile(ctx context.Context, code, input string) judge.CompileResult
	Submit(ctx context.Context, code string, problemID int) judge.SubmitResult
	CheckCompiler(ctx context.Context) (string, error)
}

// Archive stores judged submissions.
type Archive interface {
	Record(ctx context.Context, s db.Submission) (db.Submission, error)
	ListRecent(ctx context.Context, username string, limit int) ([]db.Submission, error)
	Get(ctx context.Context, id int64) (*db.Submission, error)
	Count(ctx context.Context) (int, error)
	OutcomeCounts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Arena          *arena.Arena
	Hub            *ws.Hub
	Judge          Runner
	Archive        Archive
	Catalog        *catalog.Catalog
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	AllowedOrigins []string
}

type API struct {
	arena       *arena.Arena
	hub         *ws.Hub
	judge       Runner
	archive     Archive
	catalog     *catalog.Catalog
	metrics     *metrics.Metrics
	logger      *slog.Logger
	origins     []string
	judgeLimits *ratelimit.ClientLimiters
	now         func() time.Time
}

func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.MustLoad()
	}
	return &API{
		arena:       opts.Arena,
		hub:         opts.Hub,
		judge:       opts.Judge,
		archive:     opts.Archive,
		catalog:     opts.Catalog,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		origins:     opts.AllowedOrigins,
		judgeLimits: ratelimit.NewClientLimiters(judgeRequestsPerSecond, judgeBurst),
		now:         time.Now,
	}
}

type envelope map[string]any

func (a *API) jsonResponse(w http.ResponseWriter, status int, data envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode json response", "error", err)
	}
}

func (a *API) ok(w http.ResponseWriter, data envelope) {
	if data == nil {
		data = envelope{}
	}
	data["success"] = true
	a.jsonResponse(w, http.StatusOK, data)
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	if message != "" {
		message = strings.ToUpper(message[:1]) + message[1:]
	}
	a.jsonResponse(w, status, envelope{"success": false, "message": message})
}

func (a *API) reportServerError(r *http.Request, err error) {
	requestAttrs := slog.Group("request", "method", r.Method, "url", r.URL.String())
	a.logger.Error(err.Error(), requestAttrs, "trace", string(debug.Stack()))
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.reportServerError(r, err)
	a.errorResponse(w, http.StatusInternalServerError, "The server encountered a problem and could not process your request")
}

func (a *API) badRequest(w http.ResponseWriter, message string) {
	a.errorResponse(w, http.StatusBadRequest, message)
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	a.errorResponse(w, http.StatusNotFound, "The requested resource could not be found")
}

func (a *API) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.errorResponse(w, http.StatusMethodNotAllowed, "The "+r.Method+" method is not supported for this resource")
}

func (a *API) tooManyRequests(w http.ResponseWriter, r *http.Request) {
	a.errorResponse(w, http.StatusTooManyRequests, "Too many requests, slow down")
}

// roomError maps registry errors onto responses.
func (a *API) roomError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		a.errorResponse(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, room.ErrEmptyCode):
		a.badRequest(w, "Room code is required")
	case errors.Is(err, room.ErrInvalid):
		a.badRequest(w, strings.TrimPrefix(err.Error(), room.ErrInvalid.Error()+": "))
	default:
		a.serverError(w, r, err)
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.badRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if a.archive != nil {
		if err := a.archive.Ping(r.Context()); err != nil {
			a.logger.Error("database ping failed", "error", err)
			a.jsonResponse(w, http.StatusServiceUnavailable, envelope{
				"success":   false,
				"status":    "unavailable",
				"message":   "Database unavailable",
				"timestamp": a.now().UTC().Format(time.RFC3339),
			})
			return
		}
	}
	a.ok(w, envelope{
		"status":    "ok",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := envelope{
		"activeRooms":        a.arena.ActiveRooms(),
		"authenticatedUsers": a.arena.AuthenticatedUsers(),
		"connectedClients":   0,
		"timestamp":          a.now().UTC().Format(time.RFC3339),
	}
	if a.hub != nil {
		stats["connectedClients"] = a.hub.ClientCount()
	}

	if a.archive != nil {
		n, err := a.archive.Count(r.Context())
		if err != nil {
			a.logger.Warn("count submissions", "error", err)
		} else {
			stats["totalSubmissions"] = n
		}
		byOutcome, err := a.archive.OutcomeCounts(r.Context())
		if err != nil {
			a.logger.Warn("count submissions by outcome", "error", err)
		} else {
			stats["submissionsByOutcome"] = byOutcome
		}
	}

	a.ok(w, stats)
}

// Room handlers

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	IsPrivate   bool   `json:"isPrivate"`
	CreatedBy   string `json:"createdBy"`
}

type joinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !a.decode(w, r, &req) {
		return
	}

	rm, err := a.arena.CreateRoom(room.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		IsPrivate:   req.IsPrivate,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		a.roomError(w, r, err)
		return
	}

	a.ok(w, envelope{"room": rm, "roomCode": rm.Code})
}

func (a *API) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !a.decode(w, r, &req) {
		return
	}

	rm, err := a.arena.JoinRoom(req.RoomCode, req.Username)
	if err != nil {
		a.roomError(w, r, err)
		return
	}

	a.ok(w, envelope{"room": rm})
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	a.ok(w, envelope{"rooms": a.arena.PublicRooms()})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := a.arena.Room(urlParam(r, "code"))
	if err != nil {
		a.roomError(w, r, err)
		return
	}

	a.ok(w, envelope{"room": rm})
}

// Scoring handlers

type updateScoreRequest struct {
	Username  string    `json:"username"`
	ProblemID problemID `json:"problemId"`
	RoomCode  string    `json:"roomCode"`
}

func (a *API) UpdateScoreHandler(w http.ResponseWriter, r *http.Request) {
	var req updateScoreRequest
	if !a.decode(w, r, &req) {
		return
	}

	if _, err := a.arena.UpdateScore(req.Username, int(req.ProblemID), req.RoomCode); err != nil {
		if errors.Is(err, arena.ErrInvalidScore) {
			a.badRequest(w, "Invalid data provided")
			return
		}
		a.serverError(w, r, err)
		return
	}

	a.ok(w, envelope{"message": "Score updated and broadcasted"})
}

func (a *API) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	a.ok(w, envelope{"leaderboard": a.arena.GlobalLeaderboard()})
}

func (a *API) RoomLeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	code, entries, err := a.arena.RoomLeaderboard(urlParam(r, "roomCode"))
	if err != nil {
		a.roomError(w, r, err)
		return
	}

	a.ok(w, envelope{"roomCode": code, "leaderboard": entries})
}
