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

func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("GET", path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	code, body := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("body = %+v, want bare ok", body)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	t.Parallel()
	h := New(
		PingCheck("postgres", fakePinger{}),
		Checker{Name: "audio", Check: ok},
	)

	code, body := serve(t, h, "/readyz", context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"postgres", "audio"} {
		if body.Checks[name] != "ok" {
			t.Errorf("%s check = %q, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	t.Parallel()
	h := New(
		PingCheck("postgres", fakePinger{err: errors.New("connection refused")}),
		Checker{Name: "audio", Check: ok},
	)

	code, body := serve(t, h, "/readyz", context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["postgres"] != "fail: connection refused" {
		t.Errorf("postgres check = %q", body.Checks["postgres"])
	}
	if body.Checks["audio"] != "ok" {
		t.Errorf("audio check = %q, want ok", body.Checks["audio"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, body := serve(t, New(), "/readyz", context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	arrived := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		arrived <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	go func() {
		<-arrived
		<-arrived
		close(release)
	}()

	code, _ := serve(t, h, "/readyz", context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200; checks did not overlap", code)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	code, body := serve(t, h, "/readyz", ctx)
	if time.Since(start) > time.Second {
		t.Error("readiness check ignored request cancellation")
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["slow"] != "fail: context canceled" {
		t.Errorf("slow check = %q", body.Checks["slow"])
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()
	type cfg struct{}
	var current *cfg

	c := ConfigCheck(func() *cfg { return current })
	if c.Name != "config" {
		t.Errorf("name = %q, want config", c.Name)
	}
	if err := c.Check(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("nil config: err = %v, want ErrNotLoaded", err)
	}
	current = &cfg{}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("loaded config: err = %v", err)
	}
}
