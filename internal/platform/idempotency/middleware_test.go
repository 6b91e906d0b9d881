package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finitefield.org/usermapping/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newPublishRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/exports:publish", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func withCaller(req *http.Request, email string) *http.Request {
	identity := &auth.ServiceIdentity{Subject: "sub-" + email, Email: email}
	return req.WithContext(auth.WithServiceIdentity(req.Context(), identity))
}

func TestMiddleware_MissingHeader(t *testing.T) {
	mw := Middleware(newSQLiteStore(t), WithClock(fixedClock))

	called := false
	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(rr, newPublishRequest("", `{}`))

	if called {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_CustomHeader(t *testing.T) {
	mw := Middleware(newSQLiteStore(t), WithHeader("X-Publish-Key"), WithClock(fixedClock))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPublishRequest("k", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("default header must be ignored once overridden, got %d", rr.Code)
	}

	req := newPublishRequest("", `{}`)
	req.Header.Set("X-Publish-Key", "k")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestMiddleware_SkipsSafeMethods(t *testing.T) {
	mw := Middleware(newSQLiteStore(t))
	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal/exports", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected GET requests to bypass idempotency, got %d calls", calls)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(newSQLiteStore(t), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"exportId":"01HZX"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newPublishRequest("nightly-2024-01-01", `{}`))
	if first.Code != http.StatusAccepted {
		t.Fatalf("unexpected first response status: %d", first.Code)
	}
	if first.Header().Get(replayHeaderName) != "" {
		t.Fatalf("first response must not be marked as replay")
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newPublishRequest("nightly-2024-01-01", `{}`))

	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	if second.Code != http.StatusAccepted {
		t.Fatalf("expected replayed status 202, got %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected response body %s, got %s", first.Body.String(), second.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(newSQLiteStore(t), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, caller := range []string{"scheduler@example.iam.gserviceaccount.com", "ops@example.iam.gserviceaccount.com"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withCaller(newPublishRequest("shared-key", `{}`), caller))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("caller %s: expected 202, got %d", caller, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each caller to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(newSQLiteStore(t), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPublishRequest("same-key", `{"note":"a"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newPublishRequest("same-key", `{"note":"b"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_InFlightKeyReturnsConflict(t *testing.T) {
	store := newSQLiteStore(t)
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked while the key is in flight")
	}))

	req := newPublishRequest("pending-key", `{}`)
	fingerprint := fingerprintOf(req, anonymousCaller, []byte(`{}`))
	if _, err := store.Claim(req.Context(), "pending-key|"+anonymousCaller, fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight key, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_CompleteFailureAbandonsKey(t *testing.T) {
	store := &stubStore{failComplete: true}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	Middleware(store, WithClock(fixedClock))(next).ServeHTTP(rr, newPublishRequest("fail-key", `{}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if store.abandoned != "fail-key|"+anonymousCaller {
		t.Fatalf("expected key to be abandoned, got %q", store.abandoned)
	}
}

func TestMiddleware_StoreOutageIsUnavailable(t *testing.T) {
	rr := httptest.NewRecorder()
	Middleware(&stubStore{failClaim: true})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run when the store is down")
	})).ServeHTTP(rr, newPublishRequest("k", `{}`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMiddleware_NilStorePassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, newPublishRequest("", `{}`))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected passthrough, got %d", rr.Code)
	}
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	store := &stubStore{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, store, time.Millisecond, 10, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

type stubStore struct {
	failComplete bool
	failClaim    bool
	abandoned    string
}

func (s *stubStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	if s.failClaim {
		return Claim{}, errors.New("database is locked")
	}
	return Claim{Outcome: OutcomeFresh}, nil
}

func (s *stubStore) Complete(context.Context, string, string, Reply, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("write failed")
	}
	return nil
}

func (s *stubStore) Abandon(_ context.Context, key string) error {
	s.abandoned = key
	return nil
}

func (s *stubStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
