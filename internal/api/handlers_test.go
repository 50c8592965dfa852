package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"mediaforge/internal/history"
	"mediaforge/internal/job"
	"mediaforge/internal/media"
	"mediaforge/internal/toolexec"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRunner fails every tool invocation; route tests only exercise the
// submission and read paths, never real media work.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, cmd toolexec.Command) error {
	return errors.New("no tools in tests")
}

type stubOp struct {
	run func(ctx context.Context, env job.Env) (job.Result, error)
}

func (s stubOp) Run(ctx context.Context, env job.Env) (job.Result, error) { return s.run(ctx, env) }

type stubHistory struct {
	rows []history.Download
	err  error
}

func (s stubHistory) Recent(limit int) ([]history.Download, error) { return s.rows, s.err }

type denyAll struct{}

func (denyAll) HasAccess(userID, tool string) bool { return false }

type allowOnly struct{ user string }

func (a allowOnly) HasAccess(userID, tool string) bool { return userID == a.user }

func newTestRouter(t *testing.T, hist HistoryLister, access AccessChecker) (*gin.Engine, *job.Manager) {
	t.Helper()
	manager := job.NewManager(job.Options{DataDir: t.TempDir(), MaxConcurrentJobs: 2, JobTimeout: 5 * time.Second})
	tools := media.Tools{Runner: stubRunner{}, FFmpeg: "ffmpeg", FFprobe: "ffprobe", YTDLP: "yt-dlp"}
	router := gin.New()
	NewAPI(manager, tools, hist, access).RegisterRoutes(router)
	return router, manager
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func multipartBody(t *testing.T, files map[string][]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, names := range files {
		for _, name := range names {
			fw, err := mw.CreateFormFile(field, name)
			if err != nil {
				t.Fatalf("create form file: %v", err)
			}
			if _, err := fw.Write([]byte("content of " + name)); err != nil {
				t.Fatalf("write form file: %v", err)
			}
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doMultipart(t *testing.T, router *gin.Engine, path string, files map[string][]string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitTerminal(t *testing.T, m *job.Manager, id string) job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Registry().Get(id)
		if err == nil && snap.State.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return job.Job{}
}

func TestSubmitDownloadAccepted(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)

	w := doJSON(t, router, http.MethodPost, "/api/v1/download",
		map[string]string{"url": "https://example.org/watch?v=1", "format": "mp3"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	id, _ := body["job_id"].(string)
	if id == "" || body["state"] != string(job.StateQueued) {
		t.Fatalf("unexpected response: %v", body)
	}
	if _, err := manager.Registry().Get(id); err != nil {
		t.Fatalf("job not registered: %v", err)
	}
}

func TestSubmitDownloadValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	cases := []map[string]string{
		{"url": "not a url"},
		{"url": "ftp://example.org/file"},
		{"url": ""},
		{"url": "https://example.org/v", "format": "wav"},
	}
	for _, c := range cases {
		if w := doJSON(t, router, http.MethodPost, "/api/v1/download", c); w.Code != http.StatusBadRequest {
			t.Errorf("payload %v: expected 400, got %d", c, w.Code)
		}
	}
}

func TestSubmitConvertRejectsWrongExtension(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	w := doMultipart(t, router, "/api/v1/convert",
		map[string][]string{"files": {"notes.txt"}},
		map[string]string{"direction": "mp4_to_mp3"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "notes.txt") {
		t.Fatalf("error must name the offending file: %s", w.Body.String())
	}
}

func TestSubmitConvertBadDirection(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doMultipart(t, router, "/api/v1/convert",
		map[string][]string{"files": {"a.mp4"}},
		map[string]string{"direction": "sideways"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitConvertAccepted(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)
	w := doMultipart(t, router, "/api/v1/convert",
		map[string][]string{"files": {"a.mp4", "b.mkv"}},
		map[string]string{"direction": "mp4_to_mp3"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := decodeBody(t, w)["job_id"].(string)
	snap, err := manager.Registry().Get(id)
	if err != nil {
		t.Fatalf("job not registered: %v", err)
	}
	if snap.TotalFiles != 2 {
		t.Fatalf("expected 2 staged inputs, got %d", snap.TotalFiles)
	}
	// Conversion fails via the stub runner, but the job must still
	// land in a terminal state.
	waitTerminal(t, manager, id)
}

func TestSubmitGIFValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)

	w := doMultipart(t, router, "/api/v1/gif",
		map[string][]string{"file": {"clip.mp4"}},
		map[string]string{"start": "-2"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative start: expected 400, got %d", w.Code)
	}

	w = doMultipart(t, router, "/api/v1/gif",
		map[string][]string{"file": {"clip.mp4"}},
		map[string]string{"duration": "300"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized duration: expected 400, got %d", w.Code)
	}

	w = doMultipart(t, router, "/api/v1/gif",
		map[string][]string{"file": {"song.mp3"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("audio input: expected 400, got %d", w.Code)
	}
}

func TestSubmitAudioEnhanceUnknownPreset(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doMultipart(t, router, "/api/v1/audio/enhance",
		map[string][]string{"file": {"talk.mp3"}},
		map[string]string{"preset": "imaginary"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitDuplicatesNeedsTwoFiles(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doMultipart(t, router, "/api/v1/duplicates",
		map[string][]string{"files": {"only.mp4"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitEncryptRequiresPassphrase(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doMultipart(t, router, "/api/v1/encrypt",
		map[string][]string{"file": {"doc.pdf"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEncryptDecryptViaAPI(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)

	w := doMultipart(t, router, "/api/v1/encrypt",
		map[string][]string{"file": {"doc.pdf"}},
		map[string]string{"passphrase": "hunter2"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := decodeBody(t, w)["job_id"].(string)
	snap := waitTerminal(t, manager, id)
	if snap.State != job.StateCompleted {
		t.Fatalf("encrypt job failed: %+v", snap)
	}
	if filepath.Ext(snap.OutputFilename) != ".mfc" {
		t.Fatalf("expected encrypted artifact, got %s", snap.OutputFilename)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doJSON(t, router, http.MethodGet, "/api/v1/status/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStatusHidesServerPaths(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)
	id, err := manager.Submit(job.Spec{Kind: job.KindDownload, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
		out := filepath.Join(env.Dir, "video.mp4")
		if err := os.WriteFile(out, []byte("x"), 0o640); err != nil {
			return job.Result{}, err
		}
		return job.Result{Files: []string{out}}, nil
	}}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, manager, id)

	w := doJSON(t, router, http.MethodGet, "/api/v1/status/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), manager.JobDir(id)) {
		t.Fatalf("status leaked server-side path: %s", w.Body.String())
	}
	body := decodeBody(t, w)
	if body["output_filename"] != "video.mp4" {
		t.Fatalf("expected output filename in status: %v", body)
	}
}

func TestCancelEndpointStatusCodes(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)

	if w := doJSON(t, router, http.MethodPost, "/api/v1/cancel/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", w.Code)
	}

	started := make(chan struct{})
	id, _ := manager.Submit(job.Spec{Kind: job.KindDownload, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
		close(started)
		<-ctx.Done()
		return job.Result{}, ctx.Err()
	}}})
	<-started
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := manager.Registry().Get(id); snap.State == job.StateProcessing {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if w := doJSON(t, router, http.MethodPost, "/api/v1/cancel/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("running job: expected 200, got %d", w.Code)
	}
	waitTerminal(t, manager, id)

	if w := doJSON(t, router, http.MethodPost, "/api/v1/cancel/"+id, nil); w.Code != http.StatusConflict {
		t.Fatalf("terminal job: expected 409, got %d", w.Code)
	}
}

func TestDownloadArtifactEndpoint(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)

	if w := doJSON(t, router, http.MethodGet, "/api/v1/download/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", w.Code)
	}

	id, _ := manager.Submit(job.Spec{Kind: job.KindDownload, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
		out := filepath.Join(env.Dir, "song.mp3")
		if err := os.WriteFile(out, []byte("audio bytes"), 0o640); err != nil {
			return job.Result{}, err
		}
		return job.Result{Files: []string{out}}, nil
	}}})
	snap := waitTerminal(t, manager, id)
	if snap.State != job.StateCompleted {
		t.Fatalf("setup job failed: %+v", snap)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/download/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="song.mp3"`) {
		t.Fatalf("disposition wrong: %s", cd)
	}
	if w.Body.String() != "audio bytes" {
		t.Fatalf("artifact content wrong: %q", w.Body.String())
	}

	// Artifact deleted out from under the registry entry.
	if err := os.RemoveAll(manager.JobDir(id)); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	if w := doJSON(t, router, http.MethodGet, "/api/v1/download/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing artifact: expected 404, got %d", w.Code)
	}
}

func TestDownloadArtifactEscapesFilename(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)

	// Titles from upstream metadata can carry quotes.
	const name = `she said "hi".mp3`
	id, _ := manager.Submit(job.Spec{Kind: job.KindDownload, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
		out := filepath.Join(env.Dir, name)
		if err := os.WriteFile(out, []byte("x"), 0o640); err != nil {
			return job.Result{}, err
		}
		return job.Result{Files: []string{out}}, nil
	}}})
	snap := waitTerminal(t, manager, id)
	if snap.State != job.StateCompleted {
		t.Fatalf("setup job failed: %+v", snap)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/download/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.Contains(cd, `\"hi\"`) {
		t.Fatalf("quotes not escaped in disposition: %s", cd)
	}
}

func TestDownloadArtifactNotCompleted(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)
	release := make(chan struct{})
	id, _ := manager.Submit(job.Spec{Kind: job.KindDownload, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
		<-release
		return job.Result{}, errors.New("done")
	}}})

	w := doJSON(t, router, http.MethodGet, "/api/v1/download/"+id, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("running job: expected 400, got %d", w.Code)
	}
	close(release)
	waitTerminal(t, manager, id)
}

func TestListJobs(t *testing.T) {
	router, manager := newTestRouter(t, nil, nil)
	for i := 0; i < 3; i++ {
		_, _ = manager.Submit(job.Spec{Kind: job.KindConvert, Op: stubOp{run: func(ctx context.Context, env job.Env) (job.Result, error) {
			return job.Result{}, errors.New("nope")
		}}})
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Jobs []job.Job `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(body.Jobs))
	}
}

func TestHistoryEndpoint(t *testing.T) {
	rows := []history.Download{{ID: 2, Kind: "download", Status: history.StatusCompleted}}
	router, _ := newTestRouter(t, stubHistory{rows: rows}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/v1/history?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"kind":"download"`) {
		t.Fatalf("history rows missing: %s", w.Body.String())
	}
}

func TestHistoryEndpointWithoutStore(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	w := doJSON(t, router, http.MethodGet, "/api/v1/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestToolAccessDenied(t *testing.T) {
	router, _ := newTestRouter(t, nil, denyAll{})
	w := doJSON(t, router, http.MethodPost, "/api/v1/download",
		map[string]string{"url": "https://example.org/v"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestToolAccessPerUser(t *testing.T) {
	router, _ := newTestRouter(t, nil, allowOnly{user: "alice"})

	body := map[string]string{"url": "https://example.org/v"}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/download", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("granted user: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, router, http.MethodPost, "/api/v1/download", body); w.Code != http.StatusForbidden {
		t.Fatalf("anonymous user: expected 403, got %d", w.Code)
	}
}
