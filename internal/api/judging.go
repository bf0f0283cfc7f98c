package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/db"
	"github.com/manpreetbhatti/codearena/internal/judge"
)

const testCasesNotFound = "Test cases not found for this problem"

// problemID accepts a JSON number or a numeric string.
type problemID int

func (p *problemID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return errors.New("problemId must be an integer")
	}
	*p = problemID(n)
	return nil
}

func urlParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

type problemSummary struct {
	ID         int                `json:"id"`
	Title      string             `json:"title"`
	Difficulty catalog.Difficulty `json:"difficulty"`
	Points     int                `json:"points"`
}

func (a *API) ListProblemsHandler(w http.ResponseWriter, r *http.Request) {
	all := a.catalog.All()
	out := make([]problemSummary, 0, len(all))
	for _, p := range all {
		out = append(out, problemSummary{ID: p.ID, Title: p.Title, Difficulty: p.Difficulty, Points: p.Points()})
	}
	a.ok(w, envelope{"problems": out})
}

func (a *API) GetProblemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(urlParam(r, "id"))
	if err != nil {
		a.badRequest(w, "Invalid problem id")
		return
	}
	p, ok := a.catalog.Get(id)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Problem not found")
		return
	}
	a.ok(w, envelope{"problem": p, "points": p.Points()})
}

func (a *API) TestCasesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(urlParam(r, "problemId"))
	if err != nil {
		a.errorResponse(w, http.StatusNotFound, testCasesNotFound)
		return
	}

	samples, total, err := a.catalog.SampleCases(id)
	if err != nil {
		a.errorResponse(w, http.StatusNotFound, testCasesNotFound)
		return
	}

	a.ok(w, envelope{"testCases": samples, "totalTestCases": total})
}

type compileRequest struct {
	Code      string    `json:"code"`
	Input     string    `json:"input"`
	ProblemID problemID `json:"problemId"`
}

func (a *API) CompileHandler(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		a.badRequest(w, "Code is required")
		return
	}

	res := a.judge.Compile(r.Context(), req.Code, req.Input)
	if !res.OK() {
		a.jsonResponse(w, http.StatusOK, envelope{
			"success": false,
			"error":   string(res.Outcome),
			"output":  res.Output,
		})
		return
	}

	a.ok(w, envelope{"output": res.Output, "error": res.Stderr})
}

type submitRequest struct {
	Code      string    `json:"code"`
	ProblemID problemID `json:"problemId"`
	Username  string    `json:"username"`
	RoomCode  string    `json:"roomCode"`
}

type testResults struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

func (a *API) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		a.badRequest(w, "Code is required")
		return
	}

	res := a.judge.Submit(r.Context(), req.Code, int(req.ProblemID))
	a.archiveSubmission(r, req, res)

	if res.Outcome != judge.Success {
		a.jsonResponse(w, http.StatusOK, envelope{
			"success":     false,
			"error":       string(res.Outcome),
			"output":      res.Output,
			"testResults": testResults{},
			"allPassed":   false,
		})
		return
	}

	a.ok(w, envelope{
		"output":      res.Output,
		"testResults": testResults{Passed: res.Passed, Total: res.Total},
		"allPassed":   res.AllPassed,
		"cases":       res.Cases,
	})
}

// archiveSubmission records the verdict. Archive failures never fail the
// request.
func (a *API) archiveSubmission(r *http.Request, req submitRequest, res judge.SubmitResult) {
	if a.archive == nil {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = "anonymous"
	}
	_, err := a.archive.Record(r.Context(), db.Submission{
		Username:   username,
		RoomCode:   strings.ToUpper(strings.TrimSpace(req.RoomCode)),
		ProblemID:  int(req.ProblemID),
		Outcome:    string(res.Outcome),
		Passed:     res.Passed,
		Total:      res.Total,
		DurationMS: res.Duration.Milliseconds(),
	})
	if err != nil {
		a.logger.Warn("archive submission", "user", username, "problem", int(req.ProblemID), "error", err)
	}
}

func (a *API) SubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	if a.archive == nil {
		a.ok(w, envelope{"submissions": []db.Submission{}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case limit < 0:
		limit = 0
	case limit > 100:
		limit = 100
	}

	subs, err := a.archive.ListRecent(r.Context(), strings.TrimSpace(r.URL.Query().Get("username")), limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.ok(w, envelope{"submissions": subs})
}

func (a *API) GetSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(urlParam(r, "id"), 10, 64)
	if err != nil || id <= 0 || a.archive == nil {
		a.notFound(w, r)
		return
	}

	sub, err := a.archive.Get(r.Context(), id)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if sub == nil {
		a.errorResponse(w, http.StatusNotFound, "Submission not found")
		return
	}
	a.ok(w, envelope{"submission": sub})
}

func (a *API) CheckCompilerHandler(w http.ResponseWriter, r *http.Request) {
	version, err := a.judge.CheckCompiler(r.Context())
	if err != nil {
		a.logger.Warn("compiler check failed", "error", err)
		a.jsonResponse(w, http.StatusOK, envelope{
			"success": false,
			"message": "g++ compiler not found. Please install g++ to use C++ compilation features.",
		})
		return
	}
	a.ok(w, envelope{"message": "g++ compiler is available", "version": version})
}
