// Package session orchestrates outbound calls: it places the telephony leg, bridges
// the answered call to a conversational agent and produces one CallResult per call.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"phonon/internal/agent"
	"phonon/internal/calls"
	"phonon/internal/events"
	"phonon/internal/telephony"
	"phonon/internal/tracker"
)

var (
	// ErrUnknownCall is returned for ids with no live session.
	ErrUnknownCall = telephony.ErrUnknownCall

	ErrAlreadyAttached = errors.New("session: media already attached")
	ErrEnded           = errors.New("session: call already ended")
	ErrCapacity        = errors.New("session: concurrency limit reached")
	ErrShutdown        = errors.New("session: manager shut down")
)

// Defaults applied when neither the request nor Config sets a value.
const (
	DefaultPublicBaseURL = "https://phonon.sh/api"
	DefaultVoice         = agent.DefaultVoice
	DefaultLanguage      = "es"
	DefaultMaxDuration   = 5 * time.Minute
)

// Config holds process-wide defaults. Every field is overridable per call where
// CallRequest has a matching field.
type Config struct {
	// PublicBaseURL is where the carrier reaches our webhooks.
	PublicBaseURL string

	DefaultVoice    string
	DefaultLanguage string
	MaxDuration     time.Duration

	// RingTimeout is passed to the carrier. Zero means carrier default.
	RingTimeout time.Duration

	// AnswerTimeout bounds the time between placing the call and the callee answering.
	AnswerTimeout time.Duration

	// PlaceTimeout bounds the carrier API request itself.
	PlaceTimeout time.Duration

	// FinalizeTimeout bounds post-call evaluation.
	FinalizeTimeout time.Duration

	// EndCallGrace lets the agent's closing words play out after it ends the conversation.
	EndCallGrace time.Duration

	// QueueFrames sizes each relay direction's backlog.
	QueueFrames int
}

func (c Config) withDefaults() Config {
	out := c
	if out.PublicBaseURL == "" {
		out.PublicBaseURL = DefaultPublicBaseURL
	}
	out.PublicBaseURL = strings.TrimRight(out.PublicBaseURL, "/")
	if out.DefaultVoice == "" {
		out.DefaultVoice = DefaultVoice
	}
	if out.DefaultLanguage == "" {
		out.DefaultLanguage = DefaultLanguage
	}
	if out.MaxDuration <= 0 {
		out.MaxDuration = DefaultMaxDuration
	}
	if out.AnswerTimeout <= 0 {
		out.AnswerTimeout = 2 * time.Minute
	}
	if out.PlaceTimeout <= 0 {
		out.PlaceTimeout = 30 * time.Second
	}
	if out.FinalizeTimeout <= 0 {
		out.FinalizeTimeout = 20 * time.Second
	}
	if out.EndCallGrace <= 0 {
		out.EndCallGrace = 2 * time.Second
	}
	return out
}

// Limiter caps concurrent calls across processes.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Options carries the optional collaborators.
type Options struct {
	Config Config

	// Evaluator judges finished conversations. Nil leaves judgment to the agent and heuristics.
	Evaluator tracker.Evaluator

	// Results stores final results. Defaults to an in-memory repository.
	Results calls.Repository

	Limiter    Limiter
	Dispatcher *events.Dispatcher
	Log        *slog.Logger
}

// Manager owns the call id → session registry, the only state shared between calls.
type Manager struct {
	cfg       Config
	telephony telephony.Provider
	agent     agent.Dialer
	evaluator tracker.Evaluator
	results   calls.Repository
	limiter   Limiter
	events    *events.Dispatcher
	log       *slog.Logger

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(tp telephony.Provider, dialer agent.Dialer, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Results == nil {
		opts.Results = calls.NewMemoryRepo()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher(opts.Log)
	}
	return &Manager{
		cfg:       opts.Config.withDefaults(),
		telephony: tp,
		agent:     dialer,
		evaluator: opts.Evaluator,
		results:   opts.Results,
		limiter:   opts.Limiter,
		events:    opts.Dispatcher,
		log:       opts.Log,
		clock:     time.Now,
		newID:     NewCallID,
		sessions:  make(map[string]*Session),
	}
}

// OnEvent subscribes h to every lifecycle event of every call.
// Register handlers before placing calls.
func (m *Manager) OnEvent(h events.Handler) {
	m.events.Subscribe(h)
}

// StartCall registers a session and places the call in the background.
// It never fails: problems surface as a failed CallResult from Session.Wait.
func (m *Manager) StartCall(ctx context.Context, req calls.CallRequest) *Session {
	req = m.applyDefaults(req)
	now := m.clock()
	call := calls.Call{ID: m.newID(), CallRequest: req, CreatedAt: now}

	s := newSession(m, call, now, m.log.With("call_id", call.ID))

	m.mu.Lock()
	closed := m.closed
	m.sessions[call.ID] = s
	m.mu.Unlock()

	s.log.Info("call requested", "to", req.To, "language", req.Language, "fields", len(req.ExtractFields))
	s.emit(calls.EventStarted, nil)

	switch err := req.Validate(); {
	case closed:
		s.terminate(calls.CallStatusFailed, calls.EndReasonShutdown, ErrShutdown)
	case err != nil:
		s.terminate(calls.CallStatusFailed, calls.EndReasonTelephonyError, err)
	default:
		go s.dial()
	}
	return s
}

// PlaceCall starts a call and waits for its result. Canceling ctx hangs the call up;
// the result still arrives. Failures are reported in the result, never as an error.
func (m *Manager) PlaceCall(ctx context.Context, req calls.CallRequest) calls.CallResult {
	s := m.StartCall(ctx, req)
	res, err := s.Wait(ctx)
	if err == nil {
		return res
	}
	s.terminate(s.stoppedStatus(), calls.EndReasonCanceled, nil)
	<-s.Done()
	return s.result
}

func (m *Manager) applyDefaults(req calls.CallRequest) calls.CallRequest {
	req.To = strings.TrimSpace(req.To)
	if req.Voice == "" {
		req.Voice = m.cfg.DefaultVoice
	}
	if req.Language == "" {
		req.Language = m.cfg.DefaultLanguage
	}
	if req.MaxDuration == 0 {
		req.MaxDuration = m.cfg.MaxDuration
	}
	req.ExtractFields = append([]string(nil), req.ExtractFields...)
	for i, f := range req.ExtractFields {
		req.ExtractFields[i] = strings.TrimSpace(f)
	}
	return req
}

func (m *Manager) lookup(callID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[callID]
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
}

// Active reports whether callID names a session that has not ended.
func (m *Manager) Active(callID string) bool {
	s := m.lookup(callID)
	return s != nil && s.State() != StateEnded
}

// Session returns the live session for callID.
func (m *Manager) Session(callID string) (*Session, bool) {
	s := m.lookup(callID)
	return s, s != nil
}

// ActiveCalls lists the ids of live sessions, oldest first.
func (m *Manager) ActiveCalls() []string {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].startedAt.Before(list[j].startedAt) })
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.call.ID)
	}
	return out
}

// HandleStatus applies a carrier status callback.
func (m *Manager) HandleStatus(ctx context.Context, callID string, u telephony.StatusUpdate) error {
	s := m.lookup(callID)
	if s == nil {
		return ErrUnknownCall
	}
	s.onStatus(u)
	return nil
}

// AttachMedia runs the conversation for callID over leg. It returns when the call ends.
func (m *Manager) AttachMedia(ctx context.Context, callID string, leg telephony.MediaLeg) error {
	s := m.lookup(callID)
	if s == nil {
		return ErrUnknownCall
	}
	return s.converse(ctx, leg)
}

// Hangup ends a live call and waits for its result.
// For a call that already ended it returns the stored result.
func (m *Manager) Hangup(ctx context.Context, callID string) (calls.CallResult, error) {
	s := m.lookup(callID)
	if s == nil {
		return m.stored(ctx, callID)
	}
	s.terminate(s.stoppedStatus(), calls.EndReasonCanceled, nil)
	return s.Wait(ctx)
}

// Result returns the final result of an ended call, or a snapshot of a live one.
func (m *Manager) Result(ctx context.Context, callID string) (calls.CallResult, error) {
	if s := m.lookup(callID); s != nil {
		return s.Snapshot(), nil
	}
	return m.stored(ctx, callID)
}

func (m *Manager) stored(ctx context.Context, callID string) (calls.CallResult, error) {
	res, err := m.results.GetResult(ctx, callID)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.CallResult{}, ErrUnknownCall
	}
	return res, err
}

// Shutdown ends every live call and waits for their results, or until ctx is done.
// Calls started afterwards fail immediately.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	if len(live) > 0 {
		m.log.Info("shutting down live calls", "count", len(live))
	}
	for _, s := range live {
		s.terminate(s.stoppedStatus(), calls.EndReasonShutdown, nil)
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
