package pii

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// tokenRe matches issued tokens, including collision-disambiguated suffixes.
var tokenRe = regexp.MustCompile(`^[A-Z]{3}-[0-9A-F]{8}(?:[0-9A-F]{2})*$`)

// Sentinel errors surfaced to the API layer for status mapping.
var (
	ErrInvalidValue    = errors.New("invalid value")
	ErrTokenNotFound   = errors.New("token not found")
	ErrRequestNotFound = errors.New("detokenization request not found")
	ErrNotApproved     = errors.New("detokenization request not approved")
	ErrSelfApproval    = errors.New("requestor cannot approve their own request")
	ErrExpired         = errors.New("detokenization approval expired")
	ErrUnavailable     = errors.New("canonical value unavailable")
)

// Notifier receives alert-worthy vault events. Implementations must be safe
// for concurrent use.
type Notifier interface {
	DetokenizationAlert(ctx context.Context, actor, prefix, reason string) error
}

// Options configures a vault Service.
type Options struct {
	Pepper        string
	PepperVersion string
	RequirePepper bool
	EncryptionKey string

	// ApprovalTTL bounds how long an approved request stays usable.
	ApprovalTTL time.Duration
}

// Service generates deterministic tokens and guards detokenization behind
// dual approval.
type Service struct {
	store       Store
	cipher      *Cipher
	pepper      []byte
	version     string
	approvalTTL time.Duration
	logger      log.Logger
	metrics     *Metrics
	notifier    Notifier
}

// NewService creates a vault service. metrics and notifier may be nil.
func NewService(store Store, opts Options, logger log.Logger, metrics *Metrics, notifier Notifier) (*Service, error) {
	if store == nil {
		return nil, errors.New("vault store is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	pepper := strings.TrimSpace(opts.Pepper)
	if opts.RequirePepper && pepper == "" {
		return nil, errors.New("tokenization pepper is required but missing")
	}
	version := strings.TrimSpace(opts.PepperVersion)
	if version == "" {
		version = "v1"
	}
	cipher, err := NewCipher(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("vault cipher: %w", err)
	}
	ttl := opts.ApprovalTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:       store,
		cipher:      cipher,
		pepper:      []byte(pepper),
		version:     version,
		approvalTTL: ttl,
		logger:      logger,
		metrics:     metrics,
		notifier:    notifier,
	}, nil
}

// PepperVersion returns the active pepper version tag.
func (s *Service) PepperVersion() string { return s.version }

// PepperConfigured reports whether a pepper secret is loaded.
func (s *Service) PepperConfigured() bool { return len(s.pepper) > 0 }

// EncryptionEnabled reports whether canonical values are encrypted at rest.
func (s *Service) EncryptionEnabled() bool { return s.cipher != nil }

// TokenizeOpts carries optional audit context for a tokenization.
type TokenizeOpts struct {
	Detector string
	CaseID   string
}

// Tokenize normalizes and validates value, derives the deterministic token,
// and persists the record for later detokenization.
func (s *Service) Tokenize(ctx context.Context, value, prefix string, opts TokenizeOpts) (*Tokenized, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: tokenization requires a non-empty value", ErrInvalidValue)
	}
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	normalized := Normalize(prefix, value)
	if err := validate(prefix, normalized); err != nil {
		return nil, err
	}

	digest := s.digest(prefix, normalized)
	token, err := s.assignToken(ctx, prefix, digest)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Token:           token,
		Prefix:          prefix,
		Digest:          digest,
		NormalizedValue: normalized,
		PepperVersion:   s.version,
		Detector:        opts.Detector,
		CaseID:          opts.CaseID,
		CreatedAt:       time.Now().UTC(),
	}
	if s.cipher != nil {
		blob, err := s.cipher.Encrypt(value)
		if err != nil {
			return nil, fmt.Errorf("encrypt canonical: %w", err)
		}
		rec.Encrypted = blob
	} else {
		rec.CanonicalValue = value
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	if s.metrics != nil {
		detector := opts.Detector
		if detector == "" {
			detector = "manual"
		}
		s.metrics.TokenizationsTotal.WithLabelValues(prefix, detector).Inc()
		s.metrics.TokenizedBytes.WithLabelValues(prefix).Add(float64(len(value)))
	}

	return &Tokenized{
		Token:           token,
		Prefix:          prefix,
		Digest:          digest,
		NormalizedValue: normalized,
		PepperVersion:   s.version,
	}, nil
}

// TokenizeEntities replaces every extracted entity value with its token,
// returning a structure safe to persist outside the vault.
func (s *Service) TokenizeEntities(ctx context.Context, entities map[string][]string, opts TokenizeOpts) (map[string][]EntityToken, error) {
	if len(entities) == 0 {
		return map[string][]EntityToken{}, nil
	}
	out := make(map[string][]EntityToken, len(entities))
	for entityType, values := range entities {
		prefix := ResolvePrefix(entityType)
		var tokens []EntityToken
		for _, raw := range values {
			value := strings.TrimSpace(raw)
			if value == "" {
				continue
			}
			result, err := s.Tokenize(ctx, value, prefix, opts)
			if err != nil {
				// Skip values the prefix validators reject; the detectors
				// occasionally over-match and the case must still ingest.
				s.logger.Warn(ctx, "entity value rejected by vault", "entity_type", entityType, "prefix", prefix, "error", err.Error())
				continue
			}
			tokens = append(tokens, EntityToken{
				Token:         result.Token,
				Prefix:        result.Prefix,
				PepperVersion: result.PepperVersion,
			})
		}
		if len(tokens) > 0 {
			out[entityType] = tokens
		}
	}
	return out, nil
}

// RequestDetokenize opens a pending dual-approval request for token.
func (s *Service) RequestDetokenize(ctx context.Context, token, requestor, reason, caseID string) (*DetokRequest, error) {
	if _, ok, err := s.store.Get(ctx, token); err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	} else if !ok {
		s.recordAttempt(ctx, requestor, "", "not_found", "missing", caseID)
		return nil, ErrTokenNotFound
	}
	req := &DetokRequest{
		ID:        ulid.Make().String(),
		Token:     token,
		Requestor: requestor,
		Reason:    reason,
		CaseID:    caseID,
		Status:    RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(string(RequestPending)).Inc()
	}
	s.logger.Info(ctx, "detokenization requested", "request_id", req.ID, "requestor", requestor, "case_id", caseID)
	return req, nil
}

// Approve records a second-party decision on a pending request.
// Self-approval is denied, alerted, and returns ErrSelfApproval.
func (s *Service) Approve(ctx context.Context, requestID, approver string) (*DetokRequest, error) {
	req, ok, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("request %s already %s", requestID, req.Status)
	}

	now := time.Now().UTC()
	if approver == req.Requestor {
		req.Status = RequestDenied
		req.Approver = approver
		req.DecidedAt = now
		if err := s.store.PutRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("persist denial: %w", err)
		}
		s.alert(ctx, approver, "", "self-approval attempt on detokenization request")
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(string(RequestDenied)).Inc()
		}
		return req, ErrSelfApproval
	}

	req.Status = RequestApproved
	req.Approver = approver
	req.DecidedAt = now
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(string(RequestApproved)).Inc()
	}
	s.logger.Info(ctx, "detokenization approved", "request_id", req.ID, "requestor", req.Requestor, "approver", approver)
	return req, nil
}

// Deny rejects a pending request.
func (s *Service) Deny(ctx context.Context, requestID, approver, reason string) (*DetokRequest, error) {
	req, ok, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("request %s already %s", requestID, req.Status)
	}
	req.Status = RequestDenied
	req.Approver = approver
	req.Reason = reason
	req.DecidedAt = time.Now().UTC()
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist denial: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(string(RequestDenied)).Inc()
	}
	return req, nil
}

// Detokenize reveals the canonical value for token when actor holds an
// approved, unexpired request. Every attempt is audited.
func (s *Service) Detokenize(ctx context.Context, token, requestID, actor, caseID string) (*Revealed, error) {
	rec, ok, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if !ok {
		s.recordAttempt(ctx, actor, "", "not_found", "missing", caseID)
		return nil, ErrTokenNotFound
	}

	req, ok, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	if !ok || req.Token != token {
		s.recordAttempt(ctx, actor, rec.Prefix, "denied", "no_request", caseID)
		return nil, ErrRequestNotFound
	}
	if req.Status != RequestApproved {
		s.recordAttempt(ctx, actor, rec.Prefix, "denied", "not_approved", caseID)
		return nil, ErrNotApproved
	}
	if actor != req.Requestor {
		s.recordAttempt(ctx, actor, rec.Prefix, "denied", "actor_mismatch", caseID)
		s.alert(ctx, actor, rec.Prefix, "detokenization attempt with another actor's approval")
		return nil, ErrNotApproved
	}
	if time.Since(req.DecidedAt) > s.approvalTTL {
		s.recordAttempt(ctx, actor, rec.Prefix, "denied", "expired", caseID)
		return nil, ErrExpired
	}

	canonical := rec.CanonicalValue
	if canonical == "" && len(rec.Encrypted) > 0 {
		if s.cipher == nil {
			s.recordAttempt(ctx, actor, rec.Prefix, "unavailable", "no_cipher", caseID)
			return nil, ErrUnavailable
		}
		canonical, err = s.cipher.Decrypt(rec.Encrypted)
		if err != nil {
			s.recordAttempt(ctx, actor, rec.Prefix, "unavailable", "decrypt_failed", caseID)
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
	}
	if canonical == "" {
		s.recordAttempt(ctx, actor, rec.Prefix, "unavailable", "empty", caseID)
		return nil, ErrUnavailable
	}

	s.recordAttempt(ctx, actor, rec.Prefix, "success", "", caseID)
	return &Revealed{
		Token:          rec.Token,
		Prefix:         rec.Prefix,
		CanonicalValue: canonical,
		PepperVersion:  rec.PepperVersion,
		CaseID:         rec.CaseID,
		Detector:       rec.Detector,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

// IsToken reports whether s matches the issued token format.
func IsToken(s string) bool {
	return tokenRe.MatchString(strings.TrimSpace(s))
}

func (s *Service) digest(prefix, normalized string) string {
	mac := hmac.New(sha256.New, s.pepper)
	fmt.Fprintf(mac, "%s:%s:%s", prefix, s.version, normalized)
	return hex.EncodeToString(mac.Sum(nil))
}

// assignToken derives the token from the digest, lengthening the suffix two
// hex digits at a time when a different digest already owns the shorter
// token.
func (s *Service) assignToken(ctx context.Context, prefix, digest string) (string, error) {
	upper := strings.ToUpper(digest)
	for n := 8; n <= len(upper); n += 2 {
		token := prefix + "-" + upper[:n]
		existing, ok, err := s.store.Get(ctx, token)
		if err != nil {
			return "", fmt.Errorf("collision check: %w", err)
		}
		if !ok || existing.Digest == digest {
			return token, nil
		}
		if s.metrics != nil {
			s.metrics.TokenCollisions.Inc()
		}
	}
	return "", fmt.Errorf("token space exhausted for prefix %s", prefix)
}

func (s *Service) recordAttempt(ctx context.Context, actor, prefix, outcome, reason, caseID string) {
	if actor == "" {
		actor = "unknown"
	}
	if s.metrics != nil {
		s.metrics.DetokAttemptsTotal.WithLabelValues(outcome).Inc()
	}
	s.logger.Info(ctx, "detokenization attempt",
		"actor", actor,
		"prefix", prefix,
		"outcome", outcome,
		"reason", reason,
		"case_id", caseID,
	)
}

func (s *Service) alert(ctx context.Context, actor, prefix, reason string) {
	if s.metrics != nil {
		s.metrics.DetokAlertsTotal.WithLabelValues("warning").Inc()
	}
	s.logger.Warn(ctx, "unusual vault access", "actor", actor, "prefix", prefix, "reason", reason)
	if s.notifier != nil {
		if err := s.notifier.DetokenizationAlert(ctx, actor, prefix, reason); err != nil {
			s.logger.Error(ctx, err, "vault alert notification failed")
		}
	}
}
