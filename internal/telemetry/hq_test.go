package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents/sentinel-sensor/internal/command"
	"agents/sentinel-sensor/internal/storage"
)

// fakeHQ is an in-process HQ recording what the sensor delivers.
type fakeHQ struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	alerts     [][]byte
	heartbeats []HeartbeatRequest

	// alertStatus decides the response per alert body; 0 means 200 and
	// -1 aborts the connection.
	alertStatus     func(body []byte) int
	heartbeatStatus int
	heartbeatBody   string
	policyBody      string
}

func newFakeHQ(t *testing.T) *fakeHQ {
	t.Helper()
	hq := &fakeHQ{
		t:               t,
		heartbeatStatus: http.StatusOK,
		heartbeatBody:   `{"policies":null,"commands":[]}`,
		policyBody:      `[]`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry/alert", hq.handleAlert)
	mux.HandleFunc("/api/telemetry/heartbeat", hq.handleHeartbeat)
	mux.HandleFunc("/api/policy", func(w http.ResponseWriter, r *http.Request) {
		hq.mu.Lock()
		body := hq.policyBody
		hq.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
	hq.srv = httptest.NewServer(mux)
	t.Cleanup(hq.srv.Close)
	return hq
}

func (hq *fakeHQ) URL() string { return hq.srv.URL + "/api" }

func (hq *fakeHQ) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	assert.NoError(hq.t, err)

	hq.mu.Lock()
	decide := hq.alertStatus
	hq.mu.Unlock()

	status := 0
	if decide != nil {
		status = decide(body)
	}
	switch status {
	case -1:
		panic(http.ErrAbortHandler)
	case 0, http.StatusOK:
		hq.mu.Lock()
		hq.alerts = append(hq.alerts, body)
		hq.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unavailable", status)
	}
}

func (hq *fakeHQ) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	assert.NoError(hq.t, json.NewDecoder(r.Body).Decode(&req))

	hq.mu.Lock()
	hq.heartbeats = append(hq.heartbeats, req)
	status, body := hq.heartbeatStatus, hq.heartbeatBody
	hq.mu.Unlock()

	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (hq *fakeHQ) setAlertStatus(f func(body []byte) int) {
	hq.mu.Lock()
	defer hq.mu.Unlock()
	hq.alertStatus = f
}

func (hq *fakeHQ) setHeartbeat(status int, body string) {
	hq.mu.Lock()
	defer hq.mu.Unlock()
	hq.heartbeatStatus, hq.heartbeatBody = status, body
}

func (hq *fakeHQ) delivered() []AlertEvent {
	hq.mu.Lock()
	defer hq.mu.Unlock()
	out := make([]AlertEvent, 0, len(hq.alerts))
	for _, raw := range hq.alerts {
		var ev AlertEvent
		require.NoError(hq.t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (hq *fakeHQ) rawDelivered() [][]byte {
	hq.mu.Lock()
	defer hq.mu.Unlock()
	return append([][]byte(nil), hq.alerts...)
}

// unreachableURL returns an HQ base URL nothing listens on.
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/api"
	srv.Close()
	return url
}

type recordingExecutor struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (r *recordingExecutor) Execute(_ context.Context, cmds []command.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmds...)
}

type failingSaveStore struct {
	*storage.MemoryStore
	fail bool
}

func (s *failingSaveStore) Save(name string, data []byte) error {
	if s.fail {
		return &storage.StorageError{Op: "save", Name: name, Err: io.ErrShortWrite}
	}
	return s.MemoryStore.Save(name, data)
}

func testChannel(t *testing.T, baseURL string, store storage.Store, exec CommandExecutor, opts Options) *Channel {
	t.Helper()
	client := NewClient(baseURL, &http.Client{Timeout: 2 * time.Second})
	queue := OpenQueue(store, "offline_queue.json", opts.Metrics, nil)
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	return NewChannel(client, queue, exec, opts)
}

func event(seq string) AlertEvent {
	return NewAlertEvent("7c1e0f9a-2b4d-4c6e-8f10-32547698badc", EventClipboardBlock,
		time.UnixMilli(1700000000000), map[string]string{"seq": seq, "riskScore": "100"})
}
