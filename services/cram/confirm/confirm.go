// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confirm implements the two-phase preview/confirm protocol for
// destructive operations.
//
// A preview stores a pending record under a fresh token and hands the token
// to the caller. Confirming presents the token together with the subject it
// was issued for. Each record moves through three states:
//
//	proposed ──confirm(match)──▶ confirmed (record removed)
//	    │
//	    └──── ttl elapses ─────▶ expired (record gone)
//
// A subject mismatch leaves the record proposed, as does an apply that fails
// under Redeem. Expired and unknown tokens are indistinguishable.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTTL is the lifetime of a pending confirmation.
const DefaultTTL = 300 * time.Second

// StateProposed is the only state a stored record can be in.
const StateProposed = "proposed"

var (
	// ErrExpired means the token is unknown, already used or past its TTL.
	ErrExpired = errors.New("confirmation token expired or not found")

	// ErrMismatch means the token was issued for a different subject.
	ErrMismatch = errors.New("confirmation token does not match the target")

	// ErrCorrupt means the stored record could not be decoded.
	ErrCorrupt = errors.New("confirmation record is corrupt")

	// ErrNotFound is returned by TokenStore implementations for a missing key.
	ErrNotFound = errors.New("token not found")
)

var tracer = otel.Tracer("cram.confirm")

var confirmTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cram",
	Name:      "confirm_total",
	Help:      "Preview and confirm outcomes by kind",
}, []string{"kind", "outcome"})

// =============================================================================
// Types
// =============================================================================

// Record is what a pending confirmation stores.
type Record struct {
	Kind      string          `json:"kind"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	State     string          `json:"state"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Proposal is returned to the caller of a preview.
type Proposal struct {
	Token     string `json:"confirm_token"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

// Pending is the preview answer of a two-phase operation.
type Pending[P any] struct {
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Preview              P      `json:"preview"`
	ConfirmToken         string `json:"confirm_token"`
	ExpiresInSeconds     int    `json:"expires_in_seconds"`
}

// NewPending pairs a preview with its proposal.
func NewPending[P any](p Proposal, preview P) Pending[P] {
	return Pending[P]{
		RequiresConfirmation: true,
		Preview:              preview,
		ConfirmToken:         p.Token,
		ExpiresInSeconds:     p.ExpiresIn,
	}
}

// TokenStore persists records with a TTL.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, and Consume must be
// atomic: of two concurrent Consume calls on one key at most one may
// succeed.
type TokenStore interface {
	// Put stores value under key for ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Consume loads key and passes the value to fn. The key is deleted when
	// fn returns nil and kept otherwise. Returns ErrNotFound for a missing
	// key and fn's error unchanged.
	Consume(ctx context.Context, key string, fn func(value []byte) error) error
}

// =============================================================================
// Manager
// =============================================================================

// Manager issues and redeems confirmation tokens.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	store  TokenStore
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager. A non-positive ttl uses DefaultTTL.
func NewManager(store TokenStore, ttl time.Duration, opts ...Option) *Manager {
	if store == nil {
		panic("NewManager: store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{store: store, ttl: ttl, clock: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Propose stores a pending record and returns its token.
//
// Description:
//
//	The token is a random UUID. The record is keyed "<kind>:<token>" so a
//	token issued for one kind cannot confirm another.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	kind - Operation family, e.g. "upd" or "stu_del".
//	subject - Identity of the target, checked again on confirm.
//	payload - JSON-encodable data needed to apply the change.
//
// Outputs:
//
//	Proposal - Token and lifetime in seconds.
//	error - Non-nil if encoding or storage fails.
func (m *Manager) Propose(ctx context.Context, kind, subject string, payload any) (Proposal, error) {
	ctx, span := tracer.Start(ctx, "confirm.Propose")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind))

	raw, err := json.Marshal(payload)
	if err != nil {
		return Proposal{}, fmt.Errorf("Propose: encoding payload: %w", err)
	}
	rec := Record{
		Kind:      kind,
		Subject:   subject,
		Payload:   raw,
		State:     StateProposed,
		ExpiresAt: m.clock().Add(m.ttl).UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return Proposal{}, fmt.Errorf("Propose: encoding record: %w", err)
	}

	token := uuid.NewString()
	if err := m.store.Put(ctx, Key(kind, token), value, m.ttl); err != nil {
		return Proposal{}, fmt.Errorf("Propose: %w", err)
	}

	confirmTotal.WithLabelValues(kind, "proposed").Inc()
	m.logger.Debug("confirmation proposed",
		slog.String("kind", kind),
		slog.String("subject", subject),
		slog.Duration("ttl", m.ttl),
	)
	return Proposal{Token: token, ExpiresIn: int(m.ttl / time.Second)}, nil
}

// Confirm redeems token and decodes its payload into out.
//
// Description:
//
//	Returns ErrExpired when the record is missing or past its expiry,
//	ErrMismatch when subject differs (the record stays pending) and
//	ErrCorrupt when the record or payload does not decode. On success the
//	record is removed, so a token confirms at most once.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	kind - Operation family the token was issued for.
//	token - The token from Propose.
//	subject - Identity of the target now being changed.
//	out - Pointer receiving the payload. May be nil.
//
// Outputs:
//
//	error - Nil when confirmed.
func (m *Manager) Confirm(ctx context.Context, kind, token, subject string, out any) error {
	ctx, span := tracer.Start(ctx, "confirm.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind))

	_, err := m.consume(ctx, kind, token, subject, out)
	return err
}

// Redeem confirms token and then runs apply.
//
// Description:
//
//	The record is consumed first, so concurrent redemptions of one token
//	apply at most once. When apply fails the record is stored again under
//	the same token for the rest of its lifetime, so the caller can retry
//	with the token it already holds. apply's error is returned unchanged.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	kind - Operation family the token was issued for.
//	token - The token from Propose.
//	subject - Identity of the target now being changed.
//	out - Pointer receiving the payload before apply runs. May be nil.
//	apply - Performs the confirmed change.
//
// Outputs:
//
//	error - A redemption error, apply's error, or nil.
func (m *Manager) Redeem(ctx context.Context, kind, token, subject string, out any, apply func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "confirm.Redeem")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind))

	value, err := m.consume(ctx, kind, token, subject, out)
	if err != nil {
		return err
	}
	if err := apply(ctx); err != nil {
		m.restore(ctx, kind, token, value)
		return err
	}
	return nil
}

// restore puts a consumed record back under its token while it has life left.
func (m *Manager) restore(ctx context.Context, kind, token string, value []byte) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return
	}
	left := rec.ExpiresAt.Sub(m.clock())
	if left <= 0 {
		return
	}
	if err := m.store.Put(ctx, Key(kind, token), value, left); err != nil {
		m.logger.Warn("confirmation not restored",
			slog.String("kind", kind),
			slog.String("subject", rec.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	confirmTotal.WithLabelValues(kind, "restored").Inc()
	m.logger.Debug("confirmation restored after failed apply",
		slog.String("kind", kind),
		slog.String("subject", rec.Subject),
		slog.Duration("ttl", left),
	)
}

// consume redeems the record and returns its raw value.
func (m *Manager) consume(ctx context.Context, kind, token, subject string, out any) ([]byte, error) {
	var raw []byte
	err := m.store.Consume(ctx, Key(kind, token), func(value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if !m.clock().Before(rec.ExpiresAt) {
			return ErrExpired
		}
		if rec.Subject != subject {
			return ErrMismatch
		}
		if out != nil && len(rec.Payload) > 0 {
			if err := json.Unmarshal(rec.Payload, out); err != nil {
				return fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
			}
		}
		raw = append([]byte(nil), value...)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		err = ErrExpired
	}

	outcome := outcomeOf(err)
	confirmTotal.WithLabelValues(kind, outcome).Inc()
	m.logger.Debug("confirmation redeemed",
		slog.String("kind", kind),
		slog.String("subject", subject),
		slog.String("outcome", outcome),
	)
	return raw, err
}

// Key builds the store key of a token.
func Key(kind, token string) string {
	return kind + ":" + token
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	}
	return "error"
}
