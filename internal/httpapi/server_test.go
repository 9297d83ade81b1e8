package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/httpapi"
	"github.com/example/latentwalk/api-go/internal/jobs"
	"github.com/example/latentwalk/api-go/internal/latent"
	"github.com/example/latentwalk/api-go/internal/model"
	"github.com/example/latentwalk/api-go/internal/synth"
	"github.com/example/latentwalk/api-go/internal/video"
)

type stubGenerator struct {
	block bool
}

func (g stubGenerator) Dim() int { return 4 }

func (g stubGenerator) Generate(ctx context.Context, z latent.Vector) (synth.Raw, error) {
	if g.block {
		<-ctx.Done()
		return synth.Raw{}, ctx.Err()
	}
	data := make([]float32, 3*2*2)
	for i := range data {
		data[i] = 0.5
	}
	return synth.Raw{Channels: 3, Height: 2, Width: 2, Data: data}, nil
}

type fileSink struct {
	path string
	buf  bytes.Buffer
}

func (s *fileSink) WriteFrame(f synth.Frame) error {
	_, err := s.buf.Write(f.Pix)
	return err
}

func (s *fileSink) Close() error { return os.WriteFile(s.path, s.buf.Bytes(), 0o644) }

func (s *fileSink) Abort() {}

func openFileSink(_ context.Context, path string, _, _, _ int) (video.Sink, error) {
	return &fileSink{path: path}, nil
}

type fixture struct {
	srv   *httptest.Server
	orch  *jobs.Orchestrator
	blobs blob.LocalFS
}

func newFixture(t *testing.T, gen synth.Generator, apiKey string) fixture {
	t.Helper()
	blobs := blob.LocalFS{Root: filepath.Join(t.TempDir(), "out")}
	hub := events.NewHub()
	orch, err := jobs.New(jobs.Options{
		Synth:     synth.New(gen, synth.Options{}),
		Assembler: video.NewAssembler(openFileSink, nil),
		Format:    video.MP4,
		Blobs:     blobs,
		Events:    hub,
		Limits:    jobs.Limits{MaxConcurrent: 2, LogTail: 50},
	})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	server := httpapi.Server{Jobs: orch, Blobs: blobs, Hub: hub, APIKey: apiKey}
	srv := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
		hub.Close()
		srv.Close()
	})
	return fixture{srv: srv, orch: orch, blobs: blobs}
}

func (f fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f fixture) create(t *testing.T, body string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/jobs", body)
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("create status = %d: %s", resp.StatusCode, b)
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("empty jobId")
	}
	return out.JobID
}

func (f fixture) wait(t *testing.T, id string) model.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	snap, err := f.orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

const smallJob = `{"seconds":1,"fps":4,"out_res":2,"anchors":2}`

func TestHealthz(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "secret")
	resp := f.do(t, http.MethodGet, "/healthz", "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestCreateJobAndFetchResult(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	id := f.create(t, smallJob)
	f.wait(t, id)

	resp := f.do(t, http.MethodGet, "/v1/jobs/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var job struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		FramesDone  int    `json:"framesDone"`
		TotalFrames int    `json:"totalFrames"`
		ResultURL   string `json:"resultUrl"`
		Params      struct {
			Resolution int `json:"out_res"`
		} `json:"params"`
	}
	decodeJSON(t, resp.Body, &job)
	if job.Status != "done" || job.FramesDone != 4 || job.TotalFrames != 4 {
		t.Fatalf("job = %+v", job)
	}
	if job.ResultURL != "/v1/jobs/"+id+"/result" {
		t.Fatalf("resultUrl = %q", job.ResultURL)
	}
	if job.Params.Resolution != 2 {
		t.Fatalf("out_res = %d, want 2", job.Params.Resolution)
	}

	result := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/result", "")
	if result.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", result.StatusCode)
	}
	if ct := result.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type = %q", ct)
	}
	data, _ := io.ReadAll(result.Body)
	if len(data) != 4*2*2*3 {
		t.Fatalf("result bytes = %d, want %d", len(data), 4*2*2*3)
	}

	head := f.do(t, http.MethodHead, "/v1/jobs/"+id+"/result", "")
	if head.StatusCode != http.StatusOK || head.ContentLength != int64(len(data)) {
		t.Fatalf("HEAD = %d, length %d", head.StatusCode, head.ContentLength)
	}
}

func TestCreateJobAppliesDefaults(t *testing.T) {
	f := newFixture(t, stubGenerator{block: true}, "")
	id := f.create(t, "")
	snap, err := f.orch.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Params.Seconds != 2 || snap.Params.FPS != 8 || snap.Params.Resolution != 256 ||
		snap.Params.Anchors != 3 || snap.Params.Strength != 2.0 || snap.Params.Sharpen {
		t.Fatalf("params = %+v", snap.Params)
	}
}

func TestCreateJobRejectsInvalidParams(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	for _, body := range []string{
		`{"fps":0}`,
		`{"seconds":-1}`,
		`{"anchors":0}`,
		`{"out_res":0}`,
		`{"seconds":`,
	} {
		resp := f.do(t, http.MethodPost, "/v1/jobs", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	for _, path := range []string{"/v1/jobs/nope", "/v1/jobs/nope/result", "/v1/jobs/nope/logs"} {
		if resp := f.do(t, http.MethodGet, path, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
	if resp := f.do(t, http.MethodDelete, "/v1/jobs/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("DELETE = %d, want 404", resp.StatusCode)
	}
}

func TestResultNotReadyAndCancel(t *testing.T) {
	f := newFixture(t, stubGenerator{block: true}, "")
	id := f.create(t, smallJob)

	resp := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/result", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("result before done = %d, want 409", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, "/v1/jobs/"+id, ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel = %d, want 202", resp.StatusCode)
	}
	snap := f.wait(t, id)
	if snap.Status != model.JobError || snap.ErrorKind != "canceled" {
		t.Fatalf("after cancel: status %s kind %q", snap.Status, snap.ErrorKind)
	}
	if resp := f.do(t, http.MethodDelete, "/v1/jobs/"+id, ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel = %d, want 409", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/result", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("result of failed job = %d, want 409", resp.StatusCode)
	}
}

func TestLogsTail(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	id := f.create(t, smallJob)
	f.wait(t, id)

	resp := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/logs?tail=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "done: ") {
		t.Fatalf("last line = %q", lines[1])
	}

	if resp := f.do(t, http.MethodGet, "/v1/jobs/"+id+"/logs?tail=x", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tail = %d, want 400", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	first := f.create(t, smallJob)
	second := f.create(t, smallJob)
	f.wait(t, first)
	f.wait(t, second)

	resp := f.do(t, http.MethodGet, "/v1/jobs?status=done&limit=10", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []struct {
		ID     string   `json:"id"`
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	decodeJSON(t, resp.Body, &list)
	if len(list) != 2 {
		t.Fatalf("list len = %d", len(list))
	}
	for _, job := range list {
		if job.Status != "done" || len(job.Logs) != 0 {
			t.Fatalf("list entry = %+v", job)
		}
	}

	if resp := f.do(t, http.MethodGet, "/v1/jobs?status=bogus", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/v1/jobs?limit=0", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", resp.StatusCode)
	}
}

func TestDownloadByName(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	id := f.create(t, smallJob)
	f.wait(t, id)

	name := blob.ArtifactName(id, ".mp4")
	resp := f.do(t, http.MethodGet, "/download?path="+name, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d", resp.StatusCode)
	}

	cases := []struct {
		path string
		want int
	}{
		{"", http.StatusBadRequest},
		{"../secret", http.StatusBadRequest},
		{"sub%2F" + name, http.StatusBadRequest},
		{"notes.txt", http.StatusBadRequest},
		{blob.ArtifactName("x", ".mp4"), http.StatusNotFound},
	}
	for _, tc := range cases {
		if resp := f.do(t, http.MethodGet, "/download?path="+tc.path, ""); resp.StatusCode != tc.want {
			t.Errorf("download %q = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "secret")

	if resp := f.do(t, http.MethodGet, "/v1/jobs", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with key = %d, want 200", resp.StatusCode)
	}

	if resp := f.do(t, http.MethodGet, "/v1/jobs?api_key=secret", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("query key = %d, want 200", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	id := f.create(t, `{"seconds":2,"fps":8,"out_res":2,"anchors":2}`)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/jobs/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	var first events.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != events.TypeSnapshot || first.JobID != id {
		t.Fatalf("first event = %+v", first)
	}

	last := first
	for !last.Terminal() {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v (last %+v)", err, last)
		}
		if ev.FramesDone < last.FramesDone {
			t.Fatalf("progress went backwards: %d after %d", ev.FramesDone, last.FramesDone)
		}
		last = ev
	}
	// A job that finished before the subscription only yields its snapshot.
	if last.Status != model.JobDone || last.FramesDone != 16 {
		t.Fatalf("terminal event = %+v", last)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

type gatedGenerator struct {
	gate chan struct{}
}

func (g gatedGenerator) Dim() int { return 4 }

func (g gatedGenerator) Generate(ctx context.Context, z latent.Vector) (synth.Raw, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return synth.Raw{}, ctx.Err()
	}
	return stubGenerator{}.Generate(ctx, z)
}

func TestEventStreamFinishesWhenEventsAreDropped(t *testing.T) {
	gen := gatedGenerator{gate: make(chan struct{})}
	blobs := blob.LocalFS{Root: filepath.Join(t.TempDir(), "out")}
	hub := events.NewHub()
	// Jobs never publish to the hub, so the stream sees no events at all.
	orch, err := jobs.New(jobs.Options{
		Synth:     synth.New(gen, synth.Options{}),
		Assembler: video.NewAssembler(openFileSink, nil),
		Format:    video.MP4,
		Blobs:     blobs,
		Events:    events.Nop{},
	})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	server := httpapi.Server{Jobs: orch, Blobs: blobs, Hub: hub, StreamBuffer: 1, PingInterval: 20 * time.Millisecond}
	srv := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
		hub.Close()
		srv.Close()
	})
	f := fixture{srv: srv, orch: orch, blobs: blobs}
	id := f.create(t, `{"seconds":1,"fps":4,"out_res":2,"anchors":2}`)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var first events.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Terminal() {
		t.Fatalf("job finished before the gate opened: %+v", first)
	}
	close(gen.gate)

	var last events.Event
	if err := conn.ReadJSON(&last); err != nil {
		t.Fatalf("read terminal event: %v", err)
	}
	if last.Type != events.TypeDone || last.FramesDone != 4 {
		t.Fatalf("terminal event = %+v", last)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestEventStreamUnknownJob(t *testing.T) {
	f := newFixture(t, stubGenerator{}, "")
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/jobs/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v", resp)
	}
}
