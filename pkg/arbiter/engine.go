// Package arbiter composes eligibility, analysis, normalization, stamping and
// signing into a single issuance pipeline.
//
// Data flows one way: Dispute and Evidence pass the eligibility validator,
// an analyzer proposes a candidate verdict, the normalizer bounds it, the
// builder stamps a nonce and expiry, and the signer produces the ticket. A
// rejection at any stage ends the request; nothing is signed.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/arbiter/pkg/analyzer"
	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
	"github.com/Mindburn-Labs/arbiter/pkg/eligibility"
	"github.com/Mindburn-Labs/arbiter/pkg/normalize"
	"github.com/Mindburn-Labs/arbiter/pkg/observability"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
	"github.com/Mindburn-Labs/arbiter/pkg/rationale"
	"github.com/Mindburn-Labs/arbiter/pkg/ticket"
)

// ErrNoAnalyzer is returned by Resolve when the engine was built without one.
var ErrNoAnalyzer = errors.New("arbiter: no analyzer configured")

// Engine issues signed resolve tickets. It holds no per-request state.
type Engine struct {
	table      *policy.Table
	validator  *eligibility.Validator
	normalizer *normalize.Normalizer
	builder    *ticket.Builder
	signer     *crypto.Signer
	analyzer   analyzer.Analyzer
	telemetry  *observability.Provider
	logger     *slog.Logger
}

type settings struct {
	analyzer      analyzer.Analyzer
	telemetry     *observability.Provider
	logger        *slog.Logger
	now           func() time.Time
	validity      time.Duration
	enforceWindow bool
	nonces        ticket.NonceSource
	onUnknownRule normalize.UnknownRuleHook
}

// Option configures an Engine.
type Option func(*settings)

// WithAnalyzer sets the candidate source used by Resolve.
func WithAnalyzer(a analyzer.Analyzer) Option {
	return func(s *settings) { s.analyzer = a }
}

// WithTelemetry records spans and metrics through p.
func WithTelemetry(p *observability.Provider) Option {
	return func(s *settings) { s.telemetry = p }
}

// WithLogger sets the audit logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock overrides the clock used for eligibility and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithValidity sets the ticket validity window.
func WithValidity(d time.Duration) Option {
	return func(s *settings) { s.validity = d }
}

// WithDisputeWindow toggles the dispute_by check.
func WithDisputeWindow(enforce bool) Option {
	return func(s *settings) { s.enforceWindow = enforce }
}

// WithNonceSource overrides nonce generation.
func WithNonceSource(src ticket.NonceSource) Option {
	return func(s *settings) { s.nonces = src }
}

// WithUnknownRuleHook is forwarded to the normalizer.
func WithUnknownRuleHook(h normalize.UnknownRuleHook) Option {
	return func(s *settings) { s.onUnknownRule = h }
}

// New builds an engine around an immutable policy table and a signer.
func New(ctx context.Context, table *policy.Table, signer *crypto.Signer, opts ...Option) (*Engine, error) {
	if table == nil {
		return nil, errors.New("arbiter: policy table is required")
	}
	if signer == nil {
		return nil, errors.New("arbiter: signer is required")
	}
	s := settings{
		logger:        slog.Default(),
		now:           time.Now,
		validity:      ticket.DefaultValidity,
		enforceWindow: true,
		nonces:        ticket.RandomNonces{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.validity <= 0 {
		return nil, fmt.Errorf("arbiter: ticket validity must be positive, got %s", s.validity)
	}
	if s.telemetry == nil {
		p, err := observability.New(ctx, &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		s.telemetry = p
	}
	logger := s.logger.With("component", "arbiter")

	normOpts := []normalize.Option{normalize.WithLogger(logger)}
	if s.onUnknownRule != nil {
		normOpts = append(normOpts, normalize.WithUnknownRuleHook(s.onUnknownRule))
	}

	return &Engine{
		table: table,
		validator: eligibility.NewValidator(table,
			eligibility.WithClock(s.now),
			eligibility.WithDisputeWindow(s.enforceWindow),
		),
		normalizer: normalize.New(table, normOpts...),
		builder: ticket.NewBuilder(
			ticket.WithClock(s.now),
			ticket.WithValidity(s.validity),
			ticket.WithNonceSource(s.nonces),
		),
		signer:    signer,
		analyzer:  s.analyzer,
		telemetry: s.telemetry,
		logger:    logger,
	}, nil
}

// Policy returns the table the engine enforces.
func (e *Engine) Policy() *policy.Table { return e.table }

// PublicKey returns the arbiter verifying key as hex.
func (e *Engine) PublicKey() string { return e.signer.PublicKey() }

// Resolve runs the full pipeline, asking the configured analyzer for the
// candidate verdict.
func (e *Engine) Resolve(ctx context.Context, d contracts.Dispute, evidence []contracts.EvidenceItem) (_ *contracts.SignedTicket, err error) {
	reqID := uuid.NewString()
	ctx, done := e.telemetry.TrackOperation(ctx, "arbiter.resolve",
		attribute.String("deal_id", d.ID),
		attribute.String("request_id", reqID),
	)
	defer func() { done(err) }()
	log := e.logger.With("request_id", reqID, "deal_id", d.ID)

	assessment, err := e.assess(ctx, log, d, evidence)
	if err != nil {
		return nil, err
	}
	if e.analyzer == nil {
		e.telemetry.Rejected(ctx, "analysis", "NO_ANALYZER")
		return nil, ErrNoAnalyzer
	}

	candidate, err := e.analyzer.Analyze(ctx, analyzer.Request{
		Dispute:  d,
		Evidence: evidence,
		Policy:   e.table,
		Decision: &assessment.Decision,
	})
	if err != nil {
		var ve *normalize.ValidationError
		if errors.As(err, &ve) {
			e.telemetry.Rejected(ctx, "validation", ve.Code)
			log.WarnContext(ctx, "analyzer returned malformed candidate", "code", ve.Code, "error", err)
			return nil, err
		}
		e.telemetry.Rejected(ctx, "analysis", "ANALYSIS_UNAVAILABLE")
		log.ErrorContext(ctx, "analysis failed", "analyzer", e.analyzer.Name(), "error", err)
		if !errors.Is(err, analyzer.ErrAnalysisUnavailable) {
			err = fmt.Errorf("%w: %w", analyzer.ErrAnalysisUnavailable, err)
		}
		return nil, err
	}
	return e.issue(ctx, log, d, assessment, candidate)
}

// Issue runs the pipeline with a caller-supplied candidate instead of asking
// the analyzer. Eligibility is still checked first.
func (e *Engine) Issue(ctx context.Context, d contracts.Dispute, evidence []contracts.EvidenceItem, candidate *contracts.CandidateVerdict) (_ *contracts.SignedTicket, err error) {
	reqID := uuid.NewString()
	ctx, done := e.telemetry.TrackOperation(ctx, "arbiter.issue",
		attribute.String("deal_id", d.ID),
		attribute.String("request_id", reqID),
	)
	defer func() { done(err) }()
	log := e.logger.With("request_id", reqID, "deal_id", d.ID)

	assessment, err := e.assess(ctx, log, d, evidence)
	if err != nil {
		return nil, err
	}
	return e.issue(ctx, log, d, assessment, candidate)
}

func (e *Engine) assess(ctx context.Context, log *slog.Logger, d contracts.Dispute, evidence []contracts.EvidenceItem) (*eligibility.Assessment, error) {
	assessment, err := e.validator.Validate(d, evidence)
	if err != nil {
		code := "ELIGIBILITY"
		var ee *eligibility.EligibilityError
		if errors.As(err, &ee) {
			code = ee.Code
		}
		e.telemetry.Rejected(ctx, "eligibility", code)
		log.InfoContext(ctx, "dispute not eligible", "code", code, "error", err)
		return nil, err
	}
	return assessment, nil
}

func (e *Engine) issue(ctx context.Context, log *slog.Logger, d contracts.Dispute, a *eligibility.Assessment, candidate *contracts.CandidateVerdict) (*contracts.SignedTicket, error) {
	if candidate != nil && candidate.RationaleReference == "" && candidate.Rationale != "" {
		c := *candidate
		ref, err := rationale.CID(c.Rationale)
		if err != nil {
			return nil, fmt.Errorf("arbiter: address rationale: %w", err)
		}
		c.RationaleReference = ref
		candidate = &c
	}

	stamp, err := e.builder.Stamp()
	if err != nil {
		e.telemetry.Rejected(ctx, "stamp", "NONCE_UNAVAILABLE")
		return nil, fmt.Errorf("arbiter: stamp ticket: %w", err)
	}
	body, err := e.normalizer.Normalize(candidate, d, stamp.Nonce, stamp.ExpiresAt)
	if err != nil {
		code := "VALIDATION"
		var ve *normalize.ValidationError
		if errors.As(err, &ve) {
			code = ve.Code
		}
		e.telemetry.Rejected(ctx, "validation", code)
		log.WarnContext(ctx, "candidate verdict rejected", "code", code, "error", err)
		return nil, err
	}

	if advisory := a.Decision.Rule; body.Outcome != advisory.Outcome {
		log.WarnContext(ctx, "candidate outcome differs from policy decision",
			"candidate_outcome", body.Outcome,
			"policy_rule", advisory.ID,
			"policy_outcome", advisory.Outcome,
			"policy_version", e.table.Version(),
		)
	}

	signed, err := e.signer.Sign(*body)
	if err != nil {
		e.telemetry.Rejected(ctx, "signing", "SIGNING_FAILED")
		return nil, fmt.Errorf("arbiter: sign ticket: %w", err)
	}
	e.telemetry.TicketIssued(ctx, string(signed.Ticket.Outcome))
	log.InfoContext(ctx, "ticket issued",
		"outcome", signed.Ticket.Outcome,
		"nonce", signed.Ticket.Nonce,
		"expires_at_utc", signed.Ticket.ExpiresAtUTC,
		"policy_version", e.table.Version(),
		"policy_rule", a.Decision.Rule.ID,
	)
	return signed, nil
}

// Verify checks the signature of signed. It does not check expiry or nonce
// reuse; see package acceptance for the consumer-side checks.
func (e *Engine) Verify(ctx context.Context, signed *contracts.SignedTicket) bool {
	ok := crypto.Verify(signed)
	e.telemetry.Verified(ctx, ok)
	return ok
}

// VerifyJSON is Verify on serialized bytes.
func (e *Engine) VerifyJSON(ctx context.Context, raw []byte) bool {
	ok := crypto.VerifyJSON(raw)
	e.telemetry.Verified(ctx, ok)
	return ok
}
