package handler_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore is a minimal repository.ScheduleStore double — only the
// methods the handler-layer tests exercise are given real behavior, the
// rest panic if ever called so an unexpected call fails loudly.
type fakeStore struct {
	schedules map[string]*domain.Schedule
	findByKey func(ctx context.Context, key repository.ScheduleKey) ([]*domain.Schedule, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{schedules: make(map[string]*domain.Schedule)}
}

func (f *fakeStore) Create(_ context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	s.ID = "generated-id"
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	cp := *s
	f.schedules[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return s, nil
}

func (f *fakeStore) FindByKey(ctx context.Context, key repository.ScheduleKey) ([]*domain.Schedule, error) {
	if f.findByKey != nil {
		return f.findByKey(ctx, key)
	}
	return nil, nil
}

func (f *fakeStore) List(context.Context, repository.ListFilter) ([]*domain.Schedule, error) {
	panic("not used by these tests")
}

func (f *fakeStore) Update(context.Context, string, repository.Update) (*domain.Schedule, error) {
	panic("not used by these tests")
}

func (f *fakeStore) UpdateNextRunAt(context.Context, string, *time.Time) (*domain.Schedule, error) {
	panic("not used by these tests")
}

func (f *fakeStore) Delete(context.Context, string) error {
	panic("not used by these tests")
}

func (f *fakeStore) DeleteByKey(context.Context, string, int64, *domain.ScheduleType) (int, error) {
	panic("not used by these tests")
}

func (f *fakeStore) PeekDue(context.Context, int, time.Time) ([]string, error) {
	panic("not used by these tests")
}

func (f *fakeStore) Claim(context.Context, []string, time.Time, time.Time) ([]repository.ClaimedSchedule, error) {
	panic("not used by these tests")
}

func (f *fakeStore) WriteOutcome(context.Context, string, time.Time, *int, *string, bool, *time.Time) error {
	panic("not used by these tests")
}

func (f *fakeStore) LeaseStats(context.Context, time.Time) (int, int, error) {
	panic("not used by these tests")
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

func newTestEngine(store *fakeStore) *gin.Engine {
	uc := usecase.NewScheduleUsecase(store, fixedClock{testNow})
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := handler.NewScheduleHandler(uc, logger)

	r := gin.New()
	schedules := r.Group("/schedules")
	schedules.POST("/daily", h.CreateDaily)
	schedules.POST("/interval", h.CreateInterval)
	schedules.POST("/once", h.CreateOnce)
	schedules.GET("/:id", h.GetByID)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ---- CreateDaily ----

func TestCreateDaily_MissingToken_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/daily",
		`{"user_id":1,"scenario_id":2,"time_hhmm":"09:00"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateDaily_MissingTime_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/daily",
		`{"token":"tok","user_id":1,"scenario_id":2}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateDaily_TokenTooLong_Returns400(t *testing.T) {
	longToken := strings.Repeat("a", 257)
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/daily",
		`{"token":"`+longToken+`","user_id":1,"scenario_id":2,"time_hhmm":"09:00"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a >256 char token", w.Code)
	}
}

func TestCreateDaily_Valid_Returns200(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/daily",
		`{"token":"tok","user_id":1,"scenario_id":2,"time_hhmm":"09:00"}`)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

// ---- CreateInterval ----

func TestCreateInterval_MissingEveryMinutes_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/interval",
		`{"token":"tok","user_id":1,"scenario_id":2}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateInterval_TokenTooLong_Returns400(t *testing.T) {
	longToken := strings.Repeat("b", 300)
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/interval",
		`{"token":"`+longToken+`","user_id":1,"scenario_id":2,"every_minutes":5}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a >256 char token — validate.Struct must run after ShouldBindJSON", w.Code)
	}
}

func TestCreateInterval_InvalidEveryMinutes_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/interval",
		`{"token":"tok","user_id":1,"scenario_id":2,"every_minutes":999999}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateInterval_Valid_Returns200(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/interval",
		`{"token":"tok","user_id":1,"scenario_id":2,"every_minutes":5}`)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

// ---- CreateOnce ----

func TestCreateOnce_MissingRunAt_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/once",
		`{"token":"tok","user_id":1,"scenario_id":2}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateOnce_NaiveRunAt_Returns400(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/once",
		`{"token":"tok","user_id":1,"scenario_id":2,"run_at":"2025-02-01T09:00:00"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an offset-less run_at", w.Code)
	}
}

func TestCreateOnce_TokenTooLong_Returns400(t *testing.T) {
	longToken := strings.Repeat("c", 257)
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/once",
		`{"token":"`+longToken+`","user_id":1,"scenario_id":2,"run_at":"2025-02-01T09:00:00Z"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a >256 char token — validate.Struct must run after ShouldBindJSON", w.Code)
	}
}

func TestCreateOnce_Valid_Returns200(t *testing.T) {
	w := doJSON(newTestEngine(newFakeStore()), http.MethodPost, "/schedules/once",
		`{"token":"tok","user_id":1,"scenario_id":2,"run_at":"2025-02-01T09:00:00Z"}`)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

// ---- GetByID / writeValidationErr status mapping ----

func TestGetByID_NotFound_Returns404(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedules/does-not-exist", nil)
	newTestEngine(newFakeStore()).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetByID_Found_Returns200(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	create := doJSON(engine, http.MethodPost, "/schedules/daily",
		`{"token":"tok","user_id":1,"scenario_id":2,"time_hhmm":"09:00"}`)
	if create.Code != http.StatusOK {
		t.Fatalf("setup: create status = %d, body=%s", create.Code, create.Body.String())
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schedules/generated-id", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
