package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/gaiaviz/internal/httputil"
	"github.com/star/gaiaviz/internal/propagation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testFrames() []*propagation.Frame {
	return []*propagation.Frame{
		{TimeMyr: 0, Stars: []propagation.StarPosition{
			{SourceID: 66526127137440128, RA: 56.87, Dec: 24.11, GMag: 2.9},
			{SourceID: 65271823640496256, RA: 57.29, Dec: 24.05, GMag: 3.6},
		}},
		{TimeMyr: 0.5, Stars: []propagation.StarPosition{
			{SourceID: 66526127137440128, RA: 56.88, Dec: 24.10, GMag: 2.9},
			{SourceID: 65271823640496256, RA: 57.30, Dec: 24.04, GMag: 3.6},
		}},
	}
}

func testMetadata() Metadata {
	return Metadata{
		RA:          56.75,
		Dec:         24.12,
		Radius:      2,
		Model:       propagation.ModelLinear,
		Steps:       []float64{0, 0.5},
		SourceCount: 2,
		FetchedAt:   time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC),
	}
}

func staticLoad(frames []*propagation.Frame) LoadFunc {
	return func(*http.Request) (Metadata, []*propagation.Frame, error) {
		return testMetadata(), frames, nil
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, http.StatusBadGateway, err.Error())
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		Interval:           10 * time.Millisecond,
		KeepaliveInterval:  30 * time.Second,
	}
}

// readMessages parses the data lines of an SSE body.
func readMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("invalid JSON in SSE data line: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestBuildFrameMessage(t *testing.T) {
	msg := buildFrameMessage(1, testFrames()[1])

	if msg.Type != "frame" || msg.Index != 1 {
		t.Errorf("type/index = %q/%d, want frame/1", msg.Type, msg.Index)
	}
	if msg.Label != "0.5 Myr from now" {
		t.Errorf("label = %q", msg.Label)
	}
	if len(msg.Stars) != 2 {
		t.Fatalf("star count = %d, want 2", len(msg.Stars))
	}
	if msg.Stars[0].ID != "66526127137440128" {
		t.Errorf("id = %q, want exact decimal source id", msg.Stars[0].ID)
	}
}

// TestStreamOnce checks the wire format and message order of a stream that
// does not loop.
func TestStreamOnce(t *testing.T) {
	handler := NewHandler(staticLoad(testFrames()), writeErr, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?loop=false&interval_ms=50", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: ") {
		t.Errorf("stream should start with a retry hint, got %q", body[:min(len(body), 20)])
	}

	msgs := readMessages(t, body)
	var types []string
	for _, m := range msgs {
		types = append(types, m["type"].(string))
	}
	want := []string{"metadata", "frame", "frame", "end"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("message types = %v, want %v", types, want)
	}

	meta := msgs[0]
	if meta["frame_count"].(float64) != 2 || meta["star_count"].(float64) != 2 {
		t.Errorf("metadata counts = %v/%v", meta["frame_count"], meta["star_count"])
	}
	if meta["model"] != propagation.ModelLinear {
		t.Errorf("metadata model = %v", meta["model"])
	}
	if msgs[2]["label"] != "0.5 Myr from now" {
		t.Errorf("second frame label = %v", msgs[2]["label"])
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestStreamLoops checks that frames wrap around until the client leaves.
func TestStreamLoops(t *testing.T) {
	handler := NewHandler(staticLoad(testFrames()), writeErr, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames?interval_ms=50", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 400*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	var indexes []int
	for _, m := range readMessages(t, w.Body.String()) {
		if m["type"] == "frame" {
			indexes = append(indexes, int(m["index"].(float64)))
		}
	}
	if len(indexes) < 3 {
		t.Fatalf("got %d frames in 400ms, want at least 3", len(indexes))
	}
	for i, idx := range indexes {
		if idx != i%2 {
			t.Fatalf("frame indexes = %v, want alternating 0,1", indexes)
		}
	}
}

func TestStreamLoadError(t *testing.T) {
	load := func(*http.Request) (Metadata, []*propagation.Frame, error) {
		return Metadata{}, nil, errors.New("archive unavailable")
	}
	handler := NewHandler(load, writeErr, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if handler.limiter.active() != 0 {
		t.Error("failed load must release its stream slot")
	}
}

func TestStreamNoFrames(t *testing.T) {
	empty := []*propagation.Frame{{TimeMyr: 0}, {TimeMyr: 0.5}}
	tests := []struct {
		name   string
		frames []*propagation.Frame
	}{
		{"no frames", nil},
		{"frames without stars", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(staticLoad(tt.frames), writeErr, testConfig(), testLogger())
			w := httptest.NewRecorder()
			handler.HandleFrames(w, httptest.NewRequest("GET", "/api/v1/stream/frames?loop=false", nil))
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
			}
			if strings.Contains(w.Body.String(), `"type":"frame"`) {
				t.Error("no frame should be streamed for an empty patch")
			}
			if handler.limiter.active() != 0 {
				t.Error("rejected stream must release its slot")
			}
		})
	}
}

// TestRateLimiting verifies per-IP and global concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 5)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}

	if !limiter.acquire("10.0.0.3") {
		t.Fatal("fifth connection should fit the global cap")
	}
	if limiter.acquire("10.0.0.4") {
		t.Error("global cap should reject a sixth connection")
	}

	limiter.release("10.0.0.9")
	if limiter.active() != 5 {
		t.Errorf("releasing an unknown IP changed the total: %d", limiter.active())
	}
}

func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(staticLoad(testFrames()), writeErr, cfg, testLogger())

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleFrames(httptest.NewRecorder(), req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream/frames", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleFrames(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(staticLoad(testFrames()), writeErr, testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"interval too small", "?interval_ms=10"},
		{"interval too large", "?interval_ms=60000"},
		{"interval non-numeric", "?interval_ms=abc"},
		{"loop not boolean", "?loop=sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/frames"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleFrames(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}
