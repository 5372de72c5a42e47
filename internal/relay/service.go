// Package relay is the trust boundary of the gasless pipeline: it validates a
// session-key signed request, checks its authorization, submits it through the
// relayer identity and waits for confirmation.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gasless-relay/internal/chain"
	"github.com/ashureev/gasless-relay/internal/delegation"
	"github.com/ashureev/gasless-relay/internal/domain"
	"github.com/go-playground/validator/v10"
)

// DefaultConfirmTimeout bounds the wait for confirmation when none is configured.
const DefaultConfirmTimeout = 2 * time.Minute

const (
	opComment = "comment"
	opPublish = "publish"
)

// Publisher announces completed writes.
type Publisher interface {
	Emit(ctx context.Context, name domain.EventName, payload map[string]any) error
}

// Options configures a Service.
type Options struct {
	Chain    chain.Client
	Verifier delegation.Verifier
	Events   Publisher
	Policy   SecurityPolicy

	// ContractAddress is the destination social contract. Empty is a
	// configuration error reported per request.
	ContractAddress string
	// RelayerAddress is reported by Health only.
	RelayerAddress string

	ConfirmTimeout time.Duration
	Metrics        *Metrics
	Logger         *slog.Logger
}

// Service relays delegated writes. It holds no per-request state.
type Service struct {
	chain          chain.Client
	verifier       delegation.Verifier
	events         Publisher
	policy         SecurityPolicy
	contract       string
	relayer        string
	confirmTimeout time.Duration
	metrics        *Metrics
	validate       *validator.Validate
	logger         *slog.Logger
}

// NewService creates a relay service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Verifier == nil {
		opts.Verifier = delegation.ECDSAVerifier{}
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if !opts.Policy.EnforceSignatures() {
		opts.Logger.Warn("Relay signature enforcement is disabled", "policy", opts.Policy.String())
	}

	return &Service{
		chain:          opts.Chain,
		verifier:       opts.Verifier,
		events:         opts.Events,
		policy:         opts.Policy,
		contract:       opts.ContractAddress,
		relayer:        opts.RelayerAddress,
		confirmTimeout: opts.ConfirmTimeout,
		metrics:        opts.Metrics,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         opts.Logger,
	}
}

// RelayComment runs req through the pipeline. On success it emits exactly one
// subject:added event before returning. Every failure is a *Error and emits
// nothing. Nothing is retried and the signed nonce is never rolled back.
func (s *Service) RelayComment(ctx context.Context, req *domain.RelayRequest) (*domain.RelayResult, error) {
	state := StateReceived
	log := s.logger.With("subject_id", req.SubjectID, "user", req.UserAddress, "nonce", req.Nonce)

	fail := func(kind Kind, msg string, err error) (*domain.RelayResult, error) {
		s.metrics.outcome(opComment, kind.String())
		log.Warn("Relay failed", "state", state.String(), "kind", kind.String(), "error", err)
		return nil, &Error{Kind: kind, State: state, Message: msg, Err: err}
	}

	// Received -> Validated
	if missing := s.missingFields(req); len(missing) > 0 {
		return fail(KindRequest, MsgMissingFields, errors.New("missing: "+strings.Join(missing, ", ")))
	}
	parent := req.Parent()
	state = StateValidated

	// Validated -> AuthorizationChecked
	if s.contract == "" {
		return fail(KindConfiguration, MsgNotConfigured, nil)
	}
	if err := s.authorize(req, log); err != nil {
		var relayErr *Error
		if errors.As(err, &relayErr) {
			return fail(relayErr.Kind, relayErr.Message, relayErr.Err)
		}
		return fail(KindAuthorization, MsgVerificationFailed, err)
	}
	state = StateAuthorizationChecked

	// AuthorizationChecked -> Submitted
	submitStart := time.Now()
	tx, err := s.chain.Submit(ctx, chain.Call{
		Method:      chain.MethodComment,
		SubjectID:   req.SubjectID,
		ContentHash: req.ContentHash,
		ParentID:    parent,
		UserAddress: req.UserAddress,
		SessionKey:  req.SessionPublicKey,
		Signature:   req.Signature,
		Nonce:       req.Nonce,
	})
	s.metrics.stage("submit", submitStart)
	if err != nil {
		return fail(KindExecution, MsgRelayFailed, err)
	}
	state = StateSubmitted
	log = log.With("tx_hash", tx.Hash)
	log.Info("Relay submitted")

	// Submitted -> Confirmed
	receipt, err := s.confirm(ctx, tx)
	if err != nil {
		return fail(KindConfirmation, MsgRelayFailed, err)
	}
	state = StateConfirmed
	log.Info("Relay confirmed", "state", state.String(), "block", receipt.BlockNumber)

	s.emit(ctx, domain.SubjectAdded, map[string]any{
		"subjectId": req.SubjectID,
		"author":    req.UserAddress,
	})
	s.metrics.outcome(opComment, "success")

	return &domain.RelayResult{Success: true, TransactionHash: tx.Hash}, nil
}

// PublishSubject commits a subject on-chain with the relayer's own authority.
// It is reached only through the M2M gate. On success it emits one
// subject:published event.
func (s *Service) PublishSubject(ctx context.Context, subjectID, contentHash string) (*domain.RelayResult, error) {
	state := StateReceived
	log := s.logger.With("subject_id", subjectID, "content_hash", contentHash)

	fail := func(kind Kind, msg string, err error) (*domain.RelayResult, error) {
		s.metrics.outcome(opPublish, kind.String())
		log.Warn("Publish failed", "state", state.String(), "kind", kind.String(), "error", err)
		return nil, &Error{Kind: kind, State: state, Message: msg, Err: err}
	}

	if subjectID == "" || contentHash == "" {
		return fail(KindRequest, MsgMissingFields, nil)
	}
	state = StateValidated

	if s.contract == "" {
		return fail(KindConfiguration, MsgNotConfigured, nil)
	}
	state = StateAuthorizationChecked

	submitStart := time.Now()
	tx, err := s.chain.Submit(ctx, chain.Call{
		Method:      chain.MethodPublish,
		SubjectID:   subjectID,
		ContentHash: contentHash,
	})
	s.metrics.stage("submit", submitStart)
	if err != nil {
		return fail(KindExecution, MsgPublishFailed, err)
	}
	state = StateSubmitted

	if _, err := s.confirm(ctx, tx); err != nil {
		return fail(KindConfirmation, MsgPublishFailed, err)
	}
	log.Info("Subject published", "tx_hash", tx.Hash)

	s.emit(ctx, domain.SubjectPublished, map[string]any{"subjectId": subjectID})
	s.metrics.outcome(opPublish, "success")

	return &domain.RelayResult{Success: true, TransactionHash: tx.Hash}, nil
}

func (s *Service) missingFields(req *domain.RelayRequest) []string {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return missing
}

// authorize applies the security policy to the signature check. Under the
// permissive policy every failure is logged and ignored.
func (s *Service) authorize(req *domain.RelayRequest, log *slog.Logger) error {
	ok, err := s.verify(req)

	if s.policy.EnforceSignatures() {
		if err != nil {
			return &Error{Kind: KindAuthorization, Message: MsgVerificationFailed, Err: err}
		}
		if !ok {
			return &Error{Kind: KindAuthorization, Message: MsgInvalidSignature}
		}
		return nil
	}

	if err != nil || !ok {
		log.Warn("Signature not verified, continuing under permissive policy", "valid", ok, "error", err)
	}
	return nil
}

// verify runs the verifier, turning a panic into an error.
func (s *Service) verify(req *domain.RelayRequest) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, &panicError{value: r}
		}
	}()
	return s.verifier.Verify(req)
}

func (s *Service) confirm(ctx context.Context, tx *chain.Tx) (*chain.Receipt, error) {
	start := time.Now()
	defer s.metrics.stage("confirm", start)

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	return s.chain.Confirm(confirmCtx, tx)
}

func (s *Service) emit(ctx context.Context, name domain.EventName, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, name, payload); err != nil {
		s.logger.Warn("Event subscribers failed", "event", name, "error", err)
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("verifier panicked: %v", e.value) }

// Health describes the relay's identity and configuration.
type Health struct {
	Status         string `json:"status"`
	Relayer        string `json:"relayer"`
	SocialContract string `json:"socialContract"`
	Configured     bool   `json:"configured"`
	Policy         string `json:"policy"`
}

// Health reports service identity with addresses partially masked.
func (s *Service) Health() Health {
	return Health{
		Status:         "ok",
		Relayer:        MaskAddress(s.relayer),
		SocialContract: MaskAddress(s.contract),
		Configured:     s.contract != "" && s.chain != nil,
		Policy:         s.policy.String(),
	}
}

// MaskAddress keeps the first six and last four characters of addr.
func MaskAddress(addr string) string {
	if addr == "" {
		return "not configured"
	}
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
