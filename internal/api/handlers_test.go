package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/codearena/internal/arena"
	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/db"
	"github.com/manpreetbhatti/codearena/internal/judge"
	"github.com/manpreetbhatti/codearena/internal/metrics"
	"github.com/manpreetbhatti/codearena/internal/protocol"
	"github.com/manpreetbhatti/codearena/internal/ws"
)

type fakeRunner struct {
	mu         sync.Mutex
	compile    judge.CompileResult
	submit     judge.SubmitResult
	version    string
	versionErr error
	submitted  []int
}

func (f *fakeRunner) Compile(_ context.Context, _, _ string) judge.CompileResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compile
}

func (f *fakeRunner) Submit(_ context.Context, _ string, problemID int) judge.SubmitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, problemID)
	return f.submit
}

func (f *fakeRunner) CheckCompiler(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.versionErr
}

func (f *fakeRunner) set(fn func(f *fakeRunner)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type testServer struct {
	api    *API
	srv    *httptest.Server
	runner *fakeRunner
	db     *db.Database
}

func setupTestAPI(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	cat := catalog.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(logger, m)
	go hub.Run(ctx)

	archive, err := db.New(db.MemoryDSN, logger)
	require.NoError(t, err)

	runner := &fakeRunner{
		compile: judge.CompileResult{Outcome: judge.Success, Output: "Function compiled successfully!\n"},
		submit:  judge.SubmitResult{Outcome: judge.Success, Output: "Tests passed: 5/5\n", Passed: 5, Total: 5, AllPassed: true},
		version: "g++ (Fake) 13.2.0",
	}

	a := New(Options{
		Arena:   arena.New(arena.Options{Catalog: cat, Publisher: hub, Logger: logger, Metrics: m}),
		Hub:     hub,
		Judge:   runner,
		Archive: archive,
		Catalog: cat,
		Metrics: m,
		Logger:  logger,
	})
	srv := httptest.NewServer(a.Routes())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		archive.Close()
	})
	return &testServer{api: a, srv: srv, runner: runner, db: archive}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (ts *testServer) createRoom(t *testing.T, creator string) string {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/rooms/create", map[string]any{
		"name":       "Arrays",
		"difficulty": "easy",
		"createdBy":  creator,
	})
	require.Equal(t, http.StatusOK, status, body)
	return body["roomCode"].(string)
}

func TestHealthHandler(t *testing.T) {
	ts := setupTestAPI(t)

	for _, path := range []string{"/health", "/api/health"} {
		status, body := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "ok", body["status"])
	}
}

func TestHealthReportsUnavailableDatabase(t *testing.T) {
	ts := setupTestAPI(t)
	require.NoError(t, ts.db.Close())

	status, body := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unavailable", body["status"])
}

func TestCreateJoinAndGetRoom(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodPost, "/api/rooms/create", map[string]any{
		"name":        "Arrays",
		"description": "warmup",
		"difficulty":  "medium",
		"isPrivate":   false,
		"createdBy":   "alice",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	code := body["roomCode"].(string)
	assert.Len(t, code, 6)
	rm := body["room"].(map[string]any)
	assert.Equal(t, code, rm["code"])
	assert.Equal(t, []any{"alice"}, rm["participants"])
	assert.Contains(t, []float64{5, 6, 7}, rm["problemId"])

	status, body = ts.do(t, http.MethodPost, "/api/rooms/join", map[string]any{
		"roomCode": strings.ToLower(code),
		"username": "bob",
	})
	require.Equal(t, http.StatusOK, status)
	rm = body["room"].(map[string]any)
	assert.Equal(t, []any{"alice", "bob"}, rm["participants"])

	status, body = ts.do(t, http.MethodGet, "/rooms/"+code, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, code, body["room"].(map[string]any)["code"])

	status, body = ts.do(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, status)
	rooms := body["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.EqualValues(t, 2, rooms[0].(map[string]any)["participantCount"])
}

func TestRoomErrors(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodPost, "/api/rooms/join", map[string]any{"roomCode": "", "username": "bob"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Room code is required", body["message"])

	status, body = ts.do(t, http.MethodPost, "/api/rooms/join", map[string]any{"roomCode": "ZZZZZZ", "username": "bob"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Room not found", body["message"])

	status, body = ts.do(t, http.MethodGet, "/api/rooms/ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Room not found", body["message"])

	status, _ = ts.do(t, http.MethodPost, "/api/rooms/create", map[string]any{"difficulty": "easy", "createdBy": "alice"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPost, "/api/rooms/create", map[string]any{"name": "x", "difficulty": "easy"})
	assert.Equal(t, http.StatusBadRequest, status)

}

func TestCreateRoomUnknownDifficulty(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodPost, "/api/rooms/create", map[string]any{"name": "x", "difficulty": "brutal", "createdBy": "alice"})
	require.Equal(t, http.StatusOK, status)
	rm := body["room"].(map[string]any)
	assert.Equal(t, "brutal", rm["difficulty"])
	assert.EqualValues(t, catalog.DefaultProblemID, rm["problemId"])
}

func TestMalformedBody(t *testing.T) {
	ts := setupTestAPI(t)

	resp, err := http.Post(ts.srv.URL+"/api/rooms/create", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

func TestUpdateScoreAndLeaderboards(t *testing.T) {
	ts := setupTestAPI(t)
	code := ts.createRoom(t, "alice")

	status, body := ts.do(t, http.MethodPost, "/api/user/update-score", map[string]any{
		"username": "alice", "problemId": 8, "roomCode": code,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Score updated and broadcasted", body["message"])

	// resubmission awards nothing
	ts.do(t, http.MethodPost, "/api/user/update-score", map[string]any{"username": "alice", "problemId": 8})
	ts.do(t, http.MethodPost, "/api/user/update-score", map[string]any{"username": "bob", "problemId": "1"})

	status, body = ts.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, status)
	board := body["leaderboard"].([]any)
	require.Len(t, board, 2)
	top := board[0].(map[string]any)
	assert.Equal(t, "alice", top["username"])
	assert.EqualValues(t, 50, top["score"])
	assert.EqualValues(t, 1, top["problemsSolved"])

	status, body = ts.do(t, http.MethodGet, "/api/leaderboard/"+strings.ToLower(code), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, code, body["roomCode"])
	assert.Len(t, body["leaderboard"].([]any), 1)

	status, body = ts.do(t, http.MethodGet, "/api/leaderboard/ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Room not found", body["message"])
}

func TestUpdateScoreValidation(t *testing.T) {
	ts := setupTestAPI(t)

	for _, payload := range []map[string]any{
		{"username": "", "problemId": 1},
		{"username": "alice"},
		{"username": "alice", "problemId": 0},
	} {
		status, body := ts.do(t, http.MethodPost, "/api/user/update-score", payload)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid data provided", body["message"])
	}
}

func TestProblemsAndTestCases(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodGet, "/api/problems", nil)
	require.Equal(t, http.StatusOK, status)
	problems := body["problems"].([]any)
	require.Len(t, problems, 10)
	first := problems[0].(map[string]any)
	assert.EqualValues(t, 1, first["id"])
	assert.EqualValues(t, 10, first["points"])

	status, body = ts.do(t, http.MethodGet, "/api/problems/8", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 50, body["points"])
	assert.NotContains(t, body["problem"].(map[string]any), "cases")

	status, _ = ts.do(t, http.MethodGet, "/api/problems/404", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = ts.do(t, http.MethodGet, "/api/testcases/1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["testCases"].([]any), 2)
	assert.EqualValues(t, 5, body["totalTestCases"])

	for _, id := range []string{"9", "abc"} {
		status, body = ts.do(t, http.MethodGet, "/api/testcases/"+id, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "Test cases not found for this problem", body["message"])
	}
}

func TestCompileHandler(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodPost, "/api/compile", map[string]any{"code": "int f(){return 1;}"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Function compiled successfully!\n", body["output"])

	ts.runner.set(func(f *fakeRunner) {
		f.compile = judge.CompileResult{Outcome: judge.CompilationError, Output: "error: expected ';'"}
	})
	status, body = ts.do(t, http.MethodPost, "/api/compile", map[string]any{"code": "int f("})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Compilation Error", body["error"])
	assert.Equal(t, "error: expected ';'", body["output"])

	status, _ = ts.do(t, http.MethodPost, "/api/compile", map[string]any{"code": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitArchivesVerdict(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodPost, "/api/submit", map[string]any{
		"code": "vector<int> twoSum(vector<int>& nums, int target) { return {}; }", "problemId": "1", "username": "alice", "roomCode": "abc123",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["allPassed"])
	assert.Equal(t, map[string]any{"passed": 5.0, "total": 5.0}, body["testResults"])
	ts.runner.set(func(f *fakeRunner) { assert.Equal(t, []int{1}, f.submitted) })

	ts.runner.set(func(f *fakeRunner) {
		f.submit = judge.SubmitResult{Outcome: judge.TimeLimitExceeded, Output: "Your program took too long to execute (> 5 seconds)"}
	})
	status, body = ts.do(t, http.MethodPost, "/api/submit", map[string]any{"code": "x", "problemId": 2})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Time Limit Exceeded", body["error"])

	status, body = ts.do(t, http.MethodGet, "/api/submissions?username=alice", nil)
	require.Equal(t, http.StatusOK, status)
	subs := body["submissions"].([]any)
	require.Len(t, subs, 1)
	sub := subs[0].(map[string]any)
	assert.Equal(t, "ABC123", sub["roomCode"])
	assert.Equal(t, "Success", sub["outcome"])

	status, body = ts.do(t, http.MethodGet, "/api/submissions/"+fmt.Sprint(sub["id"]), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["submission"].(map[string]any)["username"])

	status, body = ts.do(t, http.MethodGet, "/api/submissions/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Submission not found", body["message"])

	status, body = ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["totalSubmissions"])
	assert.Equal(t, map[string]any{"Success": 1.0, "Time Limit Exceeded": 1.0}, body["submissionsByOutcome"])
	assert.EqualValues(t, 0, body["authenticatedUsers"])
}

func TestJudgeEndpointsAreRateLimited(t *testing.T) {
	ts := setupTestAPI(t)

	var limited bool
	for i := 0; i < judgeBurst+3; i++ {
		status, body := ts.do(t, http.MethodPost, "/api/compile", map[string]any{"code": "int main(){}"})
		if status == http.StatusTooManyRequests {
			limited = true
			assert.Equal(t, false, body["success"])
			break
		}
	}
	assert.True(t, limited, "expected a 429 after the burst")

	status, _ := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status, "other routes are not limited")
}

func TestCheckCompiler(t *testing.T) {
	ts := setupTestAPI(t)

	status, body := ts.do(t, http.MethodGet, "/api/check-compiler", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "g++ (Fake) 13.2.0", body["version"])

	ts.runner.set(func(f *fakeRunner) { f.versionErr = errors.New("exec: not found") })
	status, body = ts.do(t, http.MethodGet, "/api/check-compiler", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestAPI(t)
	ts.createRoom(t, "alice")

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "codearena_active_rooms 1")
}

func TestWebsocketJoinThroughRouter(t *testing.T) {
	ts := setupTestAPI(t)
	code := ts.createRoom(t, "alice")

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(event protocol.Event, payload any) {
		frame, err := protocol.Encode(event, payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	}
	send(protocol.Authenticate, "bob")
	send(protocol.JoinRoom, protocol.RoomRequest{RoomCode: code, Username: "bob"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, protocol.RoomUpdated, env.Event)

	var rm struct {
		Code         string   `json:"code"`
		Participants []string `json:"participants"`
	}
	require.NoError(t, env.Bind(&rm))
	assert.Equal(t, code, rm.Code)
	assert.Equal(t, []string{"alice", "bob"}, rm.Participants)

	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/stats", nil)
		return body["connectedClients"] == 1.0 && body["authenticatedUsers"] == 1.0
	}, 2*time.Second, 10*time.Millisecond)
}
