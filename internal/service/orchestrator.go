package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/internal/gateway"
	"github.com/cassiomorais/terminalpay/internal/infrastructure/observability"
	"github.com/cassiomorais/terminalpay/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	errStillPending = errors.New("transaction still pending")
	errSettled      = errors.New("session settled")
)

// Devices resolves terminals and checks their readiness.
type Devices interface {
	DefaultDevice(ctx context.Context) (string, error)
	CheckReadiness(ctx context.Context, code string) (bool, error)
}

// OutcomeNotifier receives sessions that reached a terminal state.
type OutcomeNotifier interface {
	Notify(ctx context.Context, s *session.Session) (bool, error)
}

// RunGuard grants one active orchestration per reference across instances.
type RunGuard interface {
	TryAcquire(ctx context.Context, reference string) (release func(), ok bool, err error)
}

// OrchestratorConfig holds the polling policy.
type OrchestratorConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	CallTimeout  time.Duration
	Currency     string
}

// StartRequest contains the data needed to start a terminal payment.
type StartRequest struct {
	Reference  string
	Amount     int64 // in cents
	TipAmount  int64 // in cents
	Currency   string
	DeviceCode string
	Metadata   map[string]any
	Source     string
}

// GatewayEvent is a status notification pushed by the processor.
type GatewayEvent struct {
	Reference     string
	TransactionID string
	Status        gateway.TxStatus
	Message       string
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator drives payment sessions from idle to a terminal outcome.
type Orchestrator struct {
	store    session.Store
	devices  Devices
	gateway  gateway.Client
	notifier OutcomeNotifier
	guard    RunGuard
	cfg      OrchestratorConfig
	logger   zerolog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	mu       sync.Mutex
	runs     map[string]*run
	trackers map[string]*txTracker
	closed   bool
	wg       sync.WaitGroup
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithRunGuard makes runs claim a distributed lease before touching the gateway.
func WithRunGuard(g RunGuard) OrchestratorOption {
	return func(o *Orchestrator) { o.guard = g }
}

// WithMetrics records orchestration metrics.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(
	store session.Store,
	devices Devices,
	client gateway.Client,
	notifier OutcomeNotifier,
	cfg OrchestratorConfig,
	logger zerolog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		devices:  devices,
		gateway:  client,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		tracer:   otel.Tracer("terminalpay/orchestrator"),
		runs:     make(map[string]*run),
		trackers: make(map[string]*txTracker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartPayment creates a session and starts driving it in the background. It
// returns once the session exists; the outcome is delivered to the notifier.
func (o *Orchestrator) StartPayment(ctx context.Context, req StartRequest) (string, error) {
	if req.Amount <= 0 {
		return "", domainErrors.NewValidationError("amount", "must be greater than 0")
	}

	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	existing, err := o.store.Get(ctx, reference)
	switch {
	case err == nil && existing.IsTerminal():
		return "", fmt.Errorf("reference %s: %w", reference, domainErrors.ErrReferenceConcluded)
	case err == nil:
		return reference, nil
	case !errors.Is(err, domainErrors.ErrSessionNotFound):
		return "", fmt.Errorf("failed to look up session: %w", err)
	}

	// The registry is consulted even for an explicit device code so an
	// unconfigured account fails as such rather than as a device not ready.
	deviceCode := req.DeviceCode
	noDevices := false
	defaultCode, err := o.devices.DefaultDevice(ctx)
	switch {
	case errors.Is(err, domainErrors.ErrNoDevicesConfigured):
		noDevices = true
	case err != nil && deviceCode == "":
		return "", fmt.Errorf("failed to resolve terminal device: %w", err)
	case err != nil:
		o.logger.Warn().Err(err).Str("device_code", deviceCode).Msg("device list unavailable, relying on readiness check")
	case deviceCode == "":
		deviceCode = defaultCode
	}

	currency := req.Currency
	if currency == "" {
		currency = o.cfg.Currency
	}
	s, err := session.NewSession(reference, req.Amount, req.TipAmount, currency, deviceCode, o.cfg.MaxAttempts, req.Metadata)
	if err != nil {
		return "", err
	}
	if _, err := o.store.Create(ctx, s); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	// Only the caller that moves the session out of idle owns the run.
	if _, err := o.store.Transition(ctx, reference, session.StateCheckingDevice, session.Fields{}); err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			return reference, nil
		}
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	source := req.Source
	if source == "" {
		source = "direct"
	}
	if o.metrics != nil {
		o.metrics.SessionsStarted.WithLabelValues(source).Inc()
	}
	o.logger.Info().
		Str("reference", reference).
		Str("device_code", deviceCode).
		Int64("amount", req.Amount).
		Int64("tip_amount", req.TipAmount).
		Msg("terminal payment started")

	if noDevices {
		if final := o.transition(ctx, reference, session.StateFailed, session.Fields{ErrorMessage: session.MsgNoDevicesConfigured}); final != nil {
			o.complete(ctx, final)
		}
		return reference, nil
	}

	o.launch(reference)
	return reference, nil
}

// CancelPayment moves the session to cancelled and stops its run. It never
// reverses a charge already taken on the terminal.
func (o *Orchestrator) CancelPayment(ctx context.Context, reference string) error {
	s, err := o.store.Transition(ctx, reference, session.StateCancelled, session.Fields{})
	if err != nil {
		return err
	}
	o.stop(reference)
	o.logger.Info().Str("reference", reference).Msg("terminal payment cancelled")
	o.complete(ctx, s)
	return nil
}

// GetSessionStatus returns the current session.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, reference string) (*session.Session, error) {
	return o.store.Get(ctx, reference)
}

// GetSessionHistory returns the session's transitions, oldest first.
func (o *Orchestrator) GetSessionHistory(ctx context.Context, reference string) ([]*session.Event, error) {
	return o.store.History(ctx, reference)
}

// HandleGatewayEvent applies a processor push notification through the same
// transitions polling uses. Events for settled sessions are ignored.
func (o *Orchestrator) HandleGatewayEvent(ctx context.Context, ev GatewayEvent) (*session.Session, error) {
	var err error
	for range 3 {
		var s *session.Session
		if s, err = o.lookup(ctx, ev); err != nil {
			return nil, err
		}
		if s.IsTerminal() {
			return s, nil
		}

		s, err = o.applyEvent(ctx, s, ev)
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			// Raced with the run loop; re-read and apply to the newer state.
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.IsTerminal() {
			o.stop(s.Reference)
			o.complete(ctx, s)
		}
		return s, nil
	}
	return nil, err
}

func (o *Orchestrator) applyEvent(ctx context.Context, s *session.Session, ev GatewayEvent) (*session.Session, error) {
	switch s.State {
	case session.StateInitiating, session.StateAttaching, session.StatePolling:
	default:
		o.logger.Warn().Str("reference", s.Reference).Str("state", string(s.State)).Msg("gateway event before initiation ignored")
		return s, nil
	}

	// Ids the session has already moved past are dropped, the status is kept.
	tracker := o.trackerFor(ctx, s)
	fields := session.Fields{TransactionID: tracker.accept(ev.TransactionID)}
	switch ev.Status {
	case gateway.TxCompleted:
		if s.State != session.StatePolling {
			next, err := o.store.Transition(ctx, s.Reference, session.StatePolling, fields)
			if err != nil {
				return nil, err
			}
			s = next
		}
		return o.store.Transition(ctx, s.Reference, session.StateSucceeded, fields)
	case gateway.TxFailed:
		fields.ErrorMessage = ev.Message
		if fields.ErrorMessage == "" {
			fields.ErrorMessage = session.MsgPaymentDeclined
		}
		return o.store.Transition(ctx, s.Reference, session.StateFailed, fields)
	}

	if s.State == session.StatePolling && fields.TransactionID != "" && fields.TransactionID != s.TransactionID {
		return o.store.Transition(ctx, s.Reference, session.StatePolling, fields)
	}
	return s, nil
}

func (o *Orchestrator) lookup(ctx context.Context, ev GatewayEvent) (*session.Session, error) {
	if ev.Reference != "" {
		s, err := o.store.Get(ctx, ev.Reference)
		if err == nil || ev.TransactionID == "" || !errors.Is(err, domainErrors.ErrSessionNotFound) {
			return s, err
		}
	}
	if ev.TransactionID == "" {
		return nil, domainErrors.NewValidationError("reference", "reference or transaction id required")
	}
	return o.store.GetByTransactionID(ctx, ev.TransactionID)
}

// Resume re-enters orchestration for a non-terminal session, typically after a
// restart. A session in initiating is attached to, never initiated again.
// It is a no-op for settled sessions and for sessions already running here.
func (o *Orchestrator) Resume(ctx context.Context, reference string) (bool, error) {
	s, err := o.store.Get(ctx, reference)
	if err != nil {
		return false, err
	}
	if s.IsTerminal() {
		return false, nil
	}
	return o.launch(reference), nil
}

// Running reports whether a run for reference is active on this instance.
func (o *Orchestrator) Running(reference string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[reference]
	return ok
}

// Wait blocks until the run for reference has finished.
func (o *Orchestrator) Wait(ctx context.Context, reference string) error {
	o.mu.Lock()
	r, ok := o.runs[reference]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every run and waits for them to exit. Sessions keep their
// state and are picked up again by Resume.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, r := range o.runs {
		r.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) launch(reference string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if _, ok := o.runs[reference]; ok {
		o.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	o.runs[reference] = r
	o.wg.Add(1)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
	}

	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			if o.runs[reference] == r {
				delete(o.runs, reference)
			}
			o.mu.Unlock()
			if o.metrics != nil {
				o.metrics.ActiveSessions.Dec()
			}
			close(r.done)
		}()
		o.guarded(ctx, reference)
	}()
	return true
}

func (o *Orchestrator) stop(reference string) {
	o.mu.Lock()
	r, ok := o.runs[reference]
	o.mu.Unlock()
	if ok {
		r.cancel()
	}
}

func (o *Orchestrator) guarded(ctx context.Context, reference string) {
	if o.guard != nil {
		release, ok, err := o.guard.TryAcquire(ctx, reference)
		if err != nil {
			o.logger.Error().Err(err).Str("reference", reference).Msg("failed to acquire run guard")
			return
		}
		if !ok {
			o.logger.Debug().Str("reference", reference).Msg("session is driven by another instance")
			return
		}
		defer release()
	}
	o.drive(ctx, reference)
}

// drive dispatches on the stored state so fresh starts and resumes share one path.
func (o *Orchestrator) drive(ctx context.Context, reference string) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	s, err := o.store.Get(ctx, reference)
	if err != nil {
		o.logger.Error().Err(err).Str("reference", reference).Msg("failed to load session")
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if s.IsTerminal() {
		// Settled before this run got going; whoever settled it owns the outcome.
		return
	}

	tracker := o.trackerFor(ctx, s)
	o.mu.Lock()
	o.trackers[reference] = tracker
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.trackers[reference] == tracker {
			delete(o.trackers, reference)
		}
		o.mu.Unlock()
	}()

	for s != nil && !s.IsTerminal() && ctx.Err() == nil {
		switch s.State {
		case session.StateIdle:
			s = o.transition(ctx, reference, session.StateCheckingDevice, session.Fields{})
		case session.StateCheckingDevice:
			s = o.checkDevice(ctx, s)
		case session.StateInitiating:
			// The outcome of an earlier initiate is unknown; look for it instead of sending another.
			s = o.transition(ctx, reference, session.StateAttaching, session.Fields{})
		case session.StateAttaching, session.StatePolling:
			s = o.poll(ctx, s, tracker)
		default:
			s = nil
		}
	}

	if s != nil && s.IsTerminal() {
		span.SetAttributes(attribute.String("payment.outcome", string(s.State)))
		o.complete(ctx, s)
	}
}

func (o *Orchestrator) checkDevice(ctx context.Context, s *session.Session) *session.Session {
	ctx, span := o.tracer.Start(ctx, "orchestrator.check_device", trace.WithAttributes(attribute.String("device.code", s.DeviceCode)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	ready, err := o.devices.CheckReadiness(callCtx, s.DeviceCode)
	cancel()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil || !ready {
		return o.transition(ctx, s.Reference, session.StateFailed, session.Fields{ErrorMessage: session.MsgDeviceNotReady})
	}

	s = o.transition(ctx, s.Reference, session.StateInitiating, session.Fields{})
	if s == nil {
		return nil
	}
	return o.initiate(ctx, s)
}

func (o *Orchestrator) initiate(ctx context.Context, s *session.Session) *session.Session {
	ctx, span := o.tracer.Start(ctx, "orchestrator.initiate")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	res, err := o.gateway.InitiatePurchase(callCtx, gateway.PurchaseRequest{
		Reference:  s.Reference,
		Amount:     s.Amount,
		TipAmount:  s.TipAmount,
		Currency:   s.Currency,
		DeviceCode: s.DeviceCode,
		Metadata:   s.Metadata,
	})
	cancel()
	if ctx.Err() != nil {
		return nil
	}

	log := o.logger.With().Str("reference", s.Reference).Logger()
	switch {
	case err != nil && gateway.Rejected(err):
		log.Warn().Err(err).Msg("initiate rejected by circuit breaker")
		span.SetStatus(codes.Error, err.Error())
		return o.transition(ctx, s.Reference, session.StateFailed, session.Fields{ErrorMessage: session.MsgGatewayUnavailable})
	case err != nil:
		// The request may have reached the terminal.
		log.Warn().Err(err).Msg("initiate outcome unknown, attaching")
		span.SetStatus(codes.Error, err.Error())
		return o.transition(ctx, s.Reference, session.StateAttaching, session.Fields{})
	}

	span.SetAttributes(attribute.String("gateway.initiate_status", string(res.Status)))
	switch res.Status {
	case gateway.InitiateOK:
		return o.transition(ctx, s.Reference, session.StatePolling, session.Fields{TransactionID: res.TransactionID})
	case gateway.InitiateConflict:
		log.Info().Str("message", res.Message).Msg("terminal busy, attaching to in-flight transaction")
		return o.transition(ctx, s.Reference, session.StateAttaching, session.Fields{TransactionID: res.TransactionID})
	default:
		msg := res.Message
		if msg == "" {
			msg = session.MsgPaymentFailed
		}
		return o.transition(ctx, s.Reference, session.StateFailed, session.Fields{ErrorMessage: msg})
	}
}

// poll checks status every PollInterval until the session settles or its
// attempt budget is spent. Every status call, failed or not, costs an attempt.
func (o *Orchestrator) poll(ctx context.Context, s *session.Session, tracker *txTracker) *session.Session {
	ctx, span := o.tracer.Start(ctx, "orchestrator.poll", trace.WithAttributes(attribute.String("session.phase", string(s.State))))
	defer span.End()

	remaining := s.RemainingAttempts()
	if remaining == 0 {
		return o.exhaust(ctx, s)
	}
	if !sleep(ctx, o.cfg.PollInterval) {
		return nil
	}

	cur := s
	err := retry.Do(ctx, retry.FixedConfig(uint(remaining), o.cfg.PollInterval), func() error {
		next, err := o.pollOnce(ctx, cur, tracker)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		cur = next
		if cur.IsTerminal() {
			return retry.Unrecoverable(errSettled)
		}
		return errStillPending
	})

	switch {
	case errors.Is(err, errSettled):
		return cur
	case errors.Is(err, errStillPending), errors.Is(err, domainErrors.ErrMaxAttemptsExceeded):
		return o.exhaust(ctx, cur)
	case errors.Is(err, domainErrors.ErrInvalidStateTransition):
		// Settled or cancelled elsewhere; whoever moved it owns the outcome.
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		o.logger.Error().Err(err).Str("reference", s.Reference).Msg("polling stopped")
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
}

// pollOnce performs one status call and records it as one transition.
func (o *Orchestrator) pollOnce(ctx context.Context, s *session.Session, tracker *txTracker) (*session.Session, error) {
	tracker.sync(s.TransactionID)
	phase := s.State

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	res, err := o.gateway.CheckStatus(callCtx, s.DeviceCode, s.PollKey())
	cancel()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := "pending"
	fields := session.Fields{IncrementAttempts: true}
	if err != nil {
		result = "error"
		o.logger.Debug().Err(err).Str("reference", s.Reference).Int("attempt", s.Attempts+1).Msg("status check failed")
	} else {
		fields.TransactionID = tracker.observe(res.TransactionID)
		result = string(res.Status)
	}
	if o.metrics != nil {
		o.metrics.PollAttempts.WithLabelValues(string(phase), result).Inc()
	}

	if phase == session.StateAttaching {
		located := err == nil && (res.TransactionID != "" || res.Status != gateway.TxPending)
		if !located {
			return o.store.Transition(ctx, s.Reference, session.StateAttaching, fields)
		}
		next, terr := o.store.Transition(ctx, s.Reference, session.StatePolling, fields)
		if terr != nil {
			return nil, terr
		}
		o.logger.Info().Str("reference", s.Reference).Str("transaction_id", next.TransactionID).Msg("attached to in-flight transaction")
		switch res.Status {
		case gateway.TxCompleted:
			return o.store.Transition(ctx, s.Reference, session.StateSucceeded, session.Fields{})
		case gateway.TxFailed:
			return o.store.Transition(ctx, s.Reference, session.StateFailed, session.Fields{ErrorMessage: failureMessage(res.Message)})
		}
		return next, nil
	}

	if err == nil {
		switch res.Status {
		case gateway.TxCompleted:
			return o.store.Transition(ctx, s.Reference, session.StateSucceeded, fields)
		case gateway.TxFailed:
			fields.ErrorMessage = failureMessage(res.Message)
			return o.store.Transition(ctx, s.Reference, session.StateFailed, fields)
		}
	}
	return o.store.Transition(ctx, s.Reference, session.StatePolling, fields)
}

func (o *Orchestrator) exhaust(ctx context.Context, s *session.Session) *session.Session {
	if s.State == session.StateAttaching {
		return o.transition(ctx, s.Reference, session.StateFailed, session.Fields{ErrorMessage: session.MsgAttachFailed})
	}
	return o.transition(ctx, s.Reference, session.StateTimedOut, session.Fields{ErrorMessage: session.MsgTimedOut})
}

// transition applies a state change made by a run. It returns nil when the run
// should stop: the session moved on elsewhere or the store failed.
func (o *Orchestrator) transition(ctx context.Context, reference string, to session.State, f session.Fields) *session.Session {
	s, err := o.store.Transition(ctx, reference, to, f)
	if err == nil {
		return s
	}
	if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
		o.logger.Debug().Err(err).Str("reference", reference).Msg("session moved on, run stopping")
	} else {
		o.logger.Error().Err(err).Str("reference", reference).Str("to", string(to)).Msg("failed to transition session")
	}
	return nil
}

// complete records a terminal outcome made by this instance and notifies once.
func (o *Orchestrator) complete(ctx context.Context, s *session.Session) {
	if o.metrics != nil {
		o.metrics.SessionOutcomes.WithLabelValues(string(s.State)).Inc()
		if s.CompletedAt != nil {
			o.metrics.SessionDuration.WithLabelValues(string(s.State)).Observe(s.CompletedAt.Sub(s.CreatedAt).Seconds())
		}
	}

	ev := o.logger.Info()
	if s.State != session.StateSucceeded {
		ev = o.logger.Warn()
	}
	ev.Str("reference", s.Reference).
		Str("state", string(s.State)).
		Str("transaction_id", s.TransactionID).
		Int("attempts", s.Attempts).
		Str("error_message", s.ErrorMessage).
		Msg("terminal payment finished")

	// Notification must not depend on the run context, which may already be cancelled.
	if _, err := o.notifier.Notify(context.WithoutCancel(ctx), s); err != nil {
		o.logger.Error().Err(err).Str("reference", s.Reference).Msg("failed to notify outcome")
	}
}

func failureMessage(msg string) string {
	if msg == "" {
		return session.MsgPaymentFailed
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// trackerFor returns the tracker of the run driving s, or one rebuilt from the
// session history so ids superseded on any instance stay superseded.
func (o *Orchestrator) trackerFor(ctx context.Context, s *session.Session) *txTracker {
	o.mu.Lock()
	t, ok := o.trackers[s.Reference]
	o.mu.Unlock()
	if !ok {
		t = newTxTracker("")
		events, err := o.store.History(ctx, s.Reference)
		if err != nil {
			o.logger.Warn().Err(err).Str("reference", s.Reference).Msg("failed to load transaction id history")
		}
		for _, e := range events {
			t.sync(e.TransactionID)
		}
	}
	t.sync(s.TransactionID)
	return t
}

// txTracker adopts the most recently revealed transaction id and refuses ids
// it has already moved past. It is shared by a run and incoming gateway events.
type txTracker struct {
	mu         sync.Mutex
	current    string
	superseded map[string]struct{}
}

func newTxTracker(current string) *txTracker {
	return &txTracker{current: current, superseded: make(map[string]struct{})}
}

// sync follows an id already stored on the session. Superseded ids are ignored.
func (t *txTracker) sync(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adopt(id)
}

// observe returns id when it should be adopted, or "" to keep the current one.
func (t *txTracker) observe(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.adopt(id) {
		return ""
	}
	return id
}

// accept is observe for a source that may repeat itself: the current id is
// returned as well as a newly adopted one.
func (t *txTracker) accept(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != "" && id == t.current {
		return id
	}
	if !t.adopt(id) {
		return ""
	}
	return id
}

func (t *txTracker) adopt(id string) bool {
	if id == "" || id == t.current {
		return false
	}
	if _, old := t.superseded[id]; old {
		return false
	}
	if t.current != "" {
		t.superseded[t.current] = struct{}{}
	}
	t.current = id
	return true
}
