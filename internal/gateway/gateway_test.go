package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"canvas-gateway/internal/ratelimit"
	"canvas-gateway/internal/session"
	"canvas-gateway/internal/upstream"
)

const (
	validToken    = "1234~validtokenvalue"
	validEndpoint = "https://example.edu/api/v1"
)

// fakeUpstream scripts downstream behavior per test.
type fakeUpstream struct {
	verifyFn func(credential, endpoint string) (json.RawMessage, error)
	invokeFn func(credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error)

	verifyCalls int
	invokeCalls int
}

func (f *fakeUpstream) VerifyCredential(ctx context.Context, credential, endpoint string) (json.RawMessage, error) {
	f.verifyCalls++
	if f.verifyFn == nil {
		return json.RawMessage(`{"id":1,"name":"Jane Doe"}`), nil
	}
	return f.verifyFn(credential, endpoint)
}

func (f *fakeUpstream) Invoke(ctx context.Context, credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error) {
	f.invokeCalls++
	if f.invokeFn == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.invokeFn(credential, endpoint, path, method, query, body)
}

// countingStore asserts what the gateway touches and when.
type countingStore struct {
	session.Store
	lookups int
}

func (c *countingStore) Lookup(ctx context.Context, sessionID string) (*session.Session, error) {
	c.lookups++
	return c.Store.Lookup(ctx, sessionID)
}

func newTestGateway(client upstream.Client, ceiling int) (*Gateway, *countingStore) {
	store := &countingStore{Store: session.NewMemoryStore(time.Hour, 5)}
	limiter := ratelimit.New(ceiling, time.Minute)
	registry := NewRegistry(DefaultOperations()...)
	return New(store, limiter, client, registry, 1000, 1000), store
}

func TestAuthenticateInvalidInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		credential string
		endpoint   string
	}{
		{name: "empty credential", credential: "", endpoint: validEndpoint},
		{name: "oversized credential", credential: strings.Repeat("a", 1001), endpoint: validEndpoint},
		{name: "credential with quotes", credential: `token"with'quotes`, endpoint: validEndpoint},
		{name: "credential with angle brackets", credential: "token<script>", endpoint: validEndpoint},
		{name: "empty endpoint", credential: validToken, endpoint: ""},
		{name: "insecure endpoint", credential: validToken, endpoint: "http://example.edu/api"},
		{name: "not a url", credential: validToken, endpoint: "https://"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up := &fakeUpstream{}
			gw, _ := newTestGateway(up, 60)

			_, err := gw.Authenticate(context.Background(), tc.credential, tc.endpoint, "")
			if KindOf(err) != KindInvalidInput {
				t.Fatalf("kind = %v, want invalid_input (err=%v)", KindOf(err), err)
			}
			// Shape failures never reach the downstream service.
			if up.verifyCalls != 0 {
				t.Errorf("downstream contacted %d times for invalid input", up.verifyCalls)
			}
		})
	}
}

func TestAuthenticateRejectedByUpstream(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		verifyFn: func(string, string) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: status=401", upstream.ErrAuthFailed)
		},
	}
	gw, _ := newTestGateway(up, 60)

	_, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if KindOf(err) != KindRejectedByUpstream {
		t.Fatalf("kind = %v, want rejected_by_upstream", KindOf(err))
	}
}

func TestAuthenticateNetworkFailureCreatesNoSession(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		verifyFn: func(string, string) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: dial tcp: timeout", upstream.ErrUnavailable)
		},
	}
	gw, _ := newTestGateway(up, 60)

	if _, err := gw.Authenticate(context.Background(), validToken, validEndpoint, ""); KindOf(err) != KindRejectedByUpstream {
		t.Fatalf("kind = %v, want rejected_by_upstream", KindOf(err))
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		verifyFn: func(credential, endpoint string) (json.RawMessage, error) {
			if credential != validToken {
				t.Errorf("verify saw credential %q", credential)
			}
			return json.RawMessage(`{"id":42,"name":"Jane Doe","email":"jane@school.edu"}`), nil
		},
	}
	gw, _ := newTestGateway(up, 60)

	result, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "Example U")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("empty session id")
	}

	// The identity summary is sanitized before it leaves the gateway.
	if strings.Contains(string(result.Identity), "Jane") {
		t.Errorf("identity leaks plaintext name: %s", result.Identity)
	}
	if !strings.Contains(string(result.Identity), "User_42") {
		t.Errorf("identity missing pseudonym: %s", result.Identity)
	}
}

func TestCallDecryptsOnlyForTheDownstreamCall(t *testing.T) {
	t.Parallel()

	var seenCredential, seenPath, seenMethod string
	up := &fakeUpstream{
		invokeFn: func(credential, endpoint, path, method string, query url.Values, body any) (json.RawMessage, error) {
			seenCredential = credential
			seenPath = path
			seenMethod = method
			return json.RawMessage(`[{"id":7,"name":"Jane Doe"}]`), nil
		},
	}
	gw, _ := newTestGateway(up, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := gw.Call(context.Background(), auth.SessionID, "list_my_courses", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if seenCredential != validToken {
		t.Errorf("downstream saw credential %q, want the original", seenCredential)
	}
	if seenPath != "/courses" || seenMethod != "GET" {
		t.Errorf("downstream request = %s %s", seenMethod, seenPath)
	}
	want := `[{"id":7,"name":"User_7"}]`
	if string(result) != want {
		t.Errorf("result = %s, want %s", result, want)
	}
}

func TestCallRateLimitedBeforeSessionLookup(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	gw, store := newTestGateway(up, 2)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	lookupsBefore := store.lookups
	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", KindOf(err))
	}
	// A rate-limited call must not touch the session table.
	if store.lookups != lookupsBefore {
		t.Error("rate-limited call touched the session store")
	}
	if up.invokeCalls != 2 {
		t.Errorf("downstream invoked %d times, want 2", up.invokeCalls)
	}
}

func TestCallUnknownSession(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(&fakeUpstream{}, 60)

	_, err := gw.Call(context.Background(), "nonexistent-session-id", "get_my_profile", nil)
	if KindOf(err) != KindSessionExpiredOrUnknown {
		t.Fatalf("kind = %v, want session_expired_or_unknown", KindOf(err))
	}
}

func TestCallUnknownOperation(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(&fakeUpstream{}, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = gw.Call(context.Background(), auth.SessionID, "no_such_operation", nil)
	if KindOf(err) != KindInvalidInput {
		t.Fatalf("kind = %v, want invalid_input", KindOf(err))
	}
}

func TestCallRevocationDestroysSession(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		invokeFn: func(string, string, string, string, url.Values, any) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: status=401", upstream.ErrAuthFailed)
		},
	}
	gw, _ := newTestGateway(up, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if KindOf(err) != KindUpstreamAuthRevoked {
		t.Fatalf("kind = %v, want upstream_auth_revoked", KindOf(err))
	}

	// The session is gone: the same identifier now reads as expired,
	// not as revoked again.
	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if KindOf(err) != KindSessionExpiredOrUnknown {
		t.Fatalf("kind = %v, want session_expired_or_unknown", KindOf(err))
	}
}

func TestCallTimeoutDoesNotDestroySession(t *testing.T) {
	t.Parallel()

	fail := true
	up := &fakeUpstream{
		invokeFn: func(string, string, string, string, url.Values, any) (json.RawMessage, error) {
			if fail {
				return nil, fmt.Errorf("%w: context deadline exceeded", upstream.ErrUnavailable)
			}
			return json.RawMessage(`{}`), nil
		},
	}
	gw, _ := newTestGateway(up, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if KindOf(err) != KindUpstreamUnavailable {
		t.Fatalf("kind = %v, want upstream_unavailable", KindOf(err))
	}

	// Retryable: the session survived the timeout.
	fail = false
	if _, err := gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil); err != nil {
		t.Fatalf("retry after timeout: %v", err)
	}
}

func TestCallErrorTextIsSanitized(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		invokeFn: func(string, string, string, string, url.Values, any) (json.RawMessage, error) {
			return nil, fmt.Errorf("%w: probing with Bearer abcdefghij0123456789abcdefghij0123456789 failed", upstream.ErrUnavailable)
		},
	}
	gw, _ := newTestGateway(up, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "abcdefghij0123456789") {
		t.Errorf("error leaks token: %v", err)
	}
	if !strings.Contains(err.Error(), RedactionMarker) {
		t.Errorf("error missing redaction marker: %v", err)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(&fakeUpstream{}, 60)

	auth, err := gw.Authenticate(context.Background(), validToken, validEndpoint, "")
	if err != nil {
		t.Fatal(err)
	}

	existed, err := gw.Logout(context.Background(), auth.SessionID)
	if err != nil || !existed {
		t.Fatalf("Logout: existed=%v err=%v", existed, err)
	}

	// Idempotent.
	existed, err = gw.Logout(context.Background(), auth.SessionID)
	if err != nil || existed {
		t.Errorf("second Logout: existed=%v err=%v", existed, err)
	}

	// Destruction is visible to every subsequent call.
	_, err = gw.Call(context.Background(), auth.SessionID, "get_my_profile", nil)
	if KindOf(err) != KindSessionExpiredOrUnknown {
		t.Errorf("kind = %v, want session_expired_or_unknown", KindOf(err))
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp := Fingerprint(validToken, validEndpoint)
	if len(fp) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fp))
	}
	if fp != Fingerprint(validToken, validEndpoint) {
		t.Error("fingerprint not deterministic")
	}
	if fp == Fingerprint("9999~othertoken", validEndpoint) {
		t.Error("different credentials share a fingerprint")
	}
	if fp == Fingerprint(validToken, "https://other.edu/api") {
		t.Error("different endpoints share a fingerprint")
	}
	if strings.Contains(fp, validToken) {
		t.Error("fingerprint embeds the credential")
	}
}

func TestKindOfForeignError(t *testing.T) {
	t.Parallel()

	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("foreign errors must map to internal")
	}
}
