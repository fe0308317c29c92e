package scheduler_test

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Run_SuccessNoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := scheduler.NewDispatcher(srv.URL, time.Second, 2, discardLogger())
	defer d.Close()

	result := d.Run(t.Context(), repository.ClaimedSchedule{ID: "s1", Token: "tok", ScenarioID: 1, UserID: 2})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", result.StatusCode)
	}
	if hits != 1 {
		t.Errorf("got %d hits, want 1 (success never retries)", hits)
	}
}

func TestDispatcher_Run_4xxDoesNotRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	d := scheduler.NewDispatcher(srv.URL, time.Second, 3, discardLogger())
	defer d.Close()

	result := d.Run(t.Context(), repository.ClaimedSchedule{ID: "s1", Token: "tok", ScenarioID: 1, UserID: 2})
	if result.Err != nil {
		t.Fatalf("unexpected transport error: %v", result.Err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", result.StatusCode)
	}
	if hits != 1 {
		t.Errorf("got %d hits, want 1 (HTTP responses, even >=400, never retry)", hits)
	}
}

func TestDispatcher_Run_TransportFailureRetriesThenFails(t *testing.T) {
	// No listener on this port (closed immediately), so every attempt is a
	// transport-level connection failure.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	d := scheduler.NewDispatcher("http://"+addr, 200*time.Millisecond, 1, discardLogger())
	defer d.Close()

	result := d.Run(t.Context(), repository.ClaimedSchedule{ID: "s1", Token: "tok", ScenarioID: 1, UserID: 2})
	if result.Err == nil {
		t.Fatal("expected a transport error after exhausting retries")
	}
}

func TestDispatcher_Run_QueryParamsIncludeScenarioAndUser(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := scheduler.NewDispatcher(srv.URL, time.Second, 0, discardLogger())
	defer d.Close()

	d.Run(t.Context(), repository.ClaimedSchedule{ID: "s1", Token: "abc", ScenarioID: 42, UserID: 7})

	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	if q.Get("token") != "abc" || q.Get("scenario_id") != "42" || q.Get("user_id") != "7" || q.Get("method") != "scenarioRun" {
		t.Errorf("unexpected query params: %q", gotQuery)
	}
}
