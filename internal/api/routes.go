package api

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/manpreetbhatti/codearena/internal/ratelimit"
	"github.com/manpreetbhatti/codearena/internal/ws"
)

// Routes builds the HTTP handler. Every route is served at the root and
// again under /api.
func (a *API) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(a.corsHandler())
	mux.Use(a.logRequests)

	mux.NotFound(a.notFound)
	mux.MethodNotAllowed(a.methodNotAllowed)

	a.mount(mux)
	mux.Route("/api", a.mount)

	return mux
}

func (a *API) corsHandler() func(http.Handler) http.Handler {
	if len(a.origins) == 0 {
		return cors.AllowAll().Handler
	}
	for _, o := range a.origins {
		if o == "*" {
			return cors.AllowAll().Handler
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: a.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
}

func (a *API) mount(r chi.Router) {
	r.Get("/health", a.HealthHandler)
	r.Get("/stats", a.StatsHandler)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
	if a.hub != nil {
		upgrader := ws.Upgrader(a.origins)
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			ws.ServeWs(a.hub, upgrader, a.arena, w, req)
		})
	}

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", a.ListRoomsHandler)
		r.Post("/create", a.CreateRoomHandler)
		r.Post("/join", a.JoinRoomHandler)
		r.Get("/{code}", a.GetRoomHandler)
	})

	r.Post("/user/update-score", a.UpdateScoreHandler)

	r.Get("/leaderboard", a.LeaderboardHandler)
	r.Get("/leaderboard/{roomCode}", a.RoomLeaderboardHandler)

	r.Get("/problems", a.ListProblemsHandler)
	r.Get("/problems/{id}", a.GetProblemHandler)
	r.Get("/testcases/{problemId}", a.TestCasesHandler)

	limited := r.With(ratelimit.Middleware(a.judgeLimits, a.tooManyRequests))
	limited.Post("/compile", a.CompileHandler)
	limited.Post("/submit", a.SubmitHandler)

	r.Get("/submissions", a.SubmissionsHandler)
	r.Get("/submissions/{id}", a.GetSubmissionHandler)
	r.Get("/check-compiler", a.CheckCompilerHandler)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}
