// Package gateway owns session lifecycle, credential confidentiality,
// rate limiting, and response sanitization for the multi-tenant
// Canvas proxy. Everything else is a pass-through described by the
// operation registry.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"canvas-gateway/internal/logger"
	"canvas-gateway/internal/ratelimit"
	"canvas-gateway/internal/seal"
	"canvas-gateway/internal/session"
	"canvas-gateway/internal/upstream"
)

// credentialPattern is the accepted shape of a downstream bearer
// token: the charset Canvas issues, nothing that could smuggle header
// or URL syntax.
var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9~._+/=-]+$`)

type Gateway struct {
	store    session.Store
	limiter  *ratelimit.Limiter
	client   upstream.Client
	registry *Registry

	maxCredentialLen int
	maxEndpointLen   int
}

// AuthResult is what a successful authentication returns: the opaque
// session identifier plus a sanitized identity summary.
type AuthResult struct {
	SessionID string          `json:"session_id"`
	Identity  json.RawMessage `json:"identity"`
}

func New(store session.Store, limiter *ratelimit.Limiter, client upstream.Client, registry *Registry, maxCredentialLen, maxEndpointLen int) *Gateway {
	if maxCredentialLen <= 0 {
		maxCredentialLen = 1000
	}
	if maxEndpointLen <= 0 {
		maxEndpointLen = 1000
	}
	return &Gateway{
		store:            store,
		limiter:          limiter,
		client:           client,
		registry:         registry,
		maxCredentialLen: maxCredentialLen,
		maxEndpointLen:   maxEndpointLen,
	}
}

// Fingerprint groups sessions belonging to the same credential and
// endpoint without storing either in the clear. It is never used to
// recover the credential.
func Fingerprint(credential, endpoint string) string {
	sum := sha256.Sum256([]byte(credential + ":" + endpoint))
	return hex.EncodeToString(sum[:])[:16]
}

// Authenticate validates the caller's credential shape, verifies the
// credential against the downstream service once, and creates a
// session holding it in sealed form. The raw credential is not
// retained anywhere else.
func (g *Gateway) Authenticate(ctx context.Context, credential, endpoint, label string) (*AuthResult, error) {
	credential = strings.TrimSpace(credential)
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")

	if err := g.validateCredential(credential); err != nil {
		return nil, err
	}
	if err := g.validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	rawIdentity, err := g.client.VerifyCredential(ctx, credential, endpoint)
	if err != nil {
		logger.Warn("credential verification failed", map[string]any{
			"endpoint": endpoint,
			"error":    SanitizeErrorText(err.Error()),
		})
		return nil, newError(KindRejectedByUpstream, "downstream declined the credential")
	}

	fingerprint := Fingerprint(credential, endpoint)
	sessionID, err := g.store.Create(ctx, credential, endpoint, label, fingerprint)
	if err != nil {
		return nil, newError(KindInternal, "failed to create session")
	}

	identity, err := SanitizeRecord(rawIdentity)
	if err != nil {
		// The session exists; the caller just gets no summary.
		identity = json.RawMessage(`null`)
	}

	logger.Info("session created", map[string]any{
		"fingerprint": fingerprint,
		"label":       label,
	})

	return &AuthResult{SessionID: sessionID, Identity: identity}, nil
}

// Call executes one resource operation on behalf of a session. Order
// matters: the rate limiter is consulted before the session table is
// touched, and the credential is decrypted only for the duration of
// the downstream round trip.
func (g *Gateway) Call(ctx context.Context, sessionID, operation string, args map[string]any) (json.RawMessage, error) {
	if !g.limiter.Allow(sessionID) {
		return nil, newError(KindRateLimited, "rate limit exceeded, retry later")
	}

	sess, err := g.store.Lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Release window state a dead session left behind.
			g.limiter.Forget(sessionID)
			return nil, newError(KindSessionExpiredOrUnknown, "invalid or expired session, please re-authenticate")
		}
		return nil, newError(KindInternal, "session lookup failed")
	}

	op, err := g.registry.Get(operation)
	if err != nil {
		return nil, newError(KindInvalidInput, "%v", err)
	}
	path, query, body, err := op.Build(args)
	if err != nil {
		return nil, newError(KindInvalidInput, "%v", err)
	}

	key := seal.DeriveKey(sess.Secret, sess.Salt)
	credential, err := seal.Decrypt(key, sess.Sealed)
	seal.Zero(key)
	seal.Zero(sess.Secret)
	if err != nil {
		return nil, newError(KindInternal, "failed to unseal session credential")
	}

	raw, callErr := g.client.Invoke(ctx, string(credential), sess.Endpoint, path, op.Method, query, body)
	seal.Zero(credential)

	if callErr != nil {
		switch {
		case errors.Is(callErr, upstream.ErrAuthFailed):
			// Credential revoked downstream: the session must die
			// before this call returns.
			_, _ = g.store.Destroy(ctx, sessionID)
			g.limiter.Forget(sessionID)
			logger.Warn("session destroyed after upstream auth failure", map[string]any{
				"fingerprint": sess.Fingerprint,
			})
			return nil, newError(KindUpstreamAuthRevoked, "credential no longer accepted, please re-authenticate")
		case errors.Is(callErr, upstream.ErrUnavailable):
			return nil, newError(KindUpstreamUnavailable, "%v", callErr)
		default:
			return nil, newError(KindInternal, "%v", callErr)
		}
	}

	return SanitizeRecord(raw)
}

// Logout destroys the session. Idempotent; the boolean reports
// whether a session actually existed.
func (g *Gateway) Logout(ctx context.Context, sessionID string) (bool, error) {
	existed, err := g.store.Destroy(ctx, sessionID)
	if err != nil {
		return false, newError(KindInternal, "failed to destroy session")
	}
	g.limiter.Forget(sessionID)
	return existed, nil
}

func (g *Gateway) validateCredential(credential string) error {
	if credential == "" {
		return newError(KindInvalidInput, "credential must not be empty")
	}
	if len(credential) > g.maxCredentialLen {
		return newError(KindInvalidInput, "credential exceeds maximum length")
	}
	if !credentialPattern.MatchString(credential) {
		return newError(KindInvalidInput, "credential contains invalid characters")
	}
	return nil
}

func (g *Gateway) validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return newError(KindInvalidInput, "endpoint must not be empty")
	}
	if len(endpoint) > g.maxEndpointLen {
		return newError(KindInvalidInput, "endpoint exceeds maximum length")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return newError(KindInvalidInput, "endpoint is not a valid URL")
	}
	if u.Scheme != "https" {
		return newError(KindInvalidInput, "endpoint must use https")
	}
	return nil
}
