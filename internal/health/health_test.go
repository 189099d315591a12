package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all passing",
			checkers: []Checker{
				{Name: "a", Check: func(context.Context) error { return nil }},
				{Name: "b", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "one failing",
			checkers: []Checker{
				{Name: "a", Check: func(context.Context) error { return nil }},
				{Name: "engine", Check: func(context.Context) error {
					return errors.New("engine unreachable")
				}},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body response
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
		})
	}
}

func TestReadyz_ReportsPerCheckDetail(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "fast", Check: func(context.Context) error { return nil }},
		Checker{Name: "postgres", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if got := body.Checks["fast"]; got.Status != "ok" || got.Error != "" {
		t.Errorf("fast = %+v, want ok with no error", got)
	}
	pg := body.Checks["postgres"]
	if pg.Status != "fail" || pg.Error != "connection refused" {
		t.Errorf("postgres = %+v, want fail with error", pg)
	}
	if pg.Elapsed == "" {
		t.Error("postgres check reported no elapsed time")
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	const delay = 100 * time.Millisecond
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	// Sequential execution would need 3x the delay.
	if elapsed := time.Since(start); elapsed > 2*delay {
		t.Errorf("checks took %v, want roughly one delay of %v", elapsed, delay)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx)

	h := New(Checker{Name: "ctx", Check: func(ctx context.Context) error {
		return ctx.Err()
	}})
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
