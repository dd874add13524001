package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phonon/internal/agent"
	"phonon/internal/calls"
	"phonon/internal/prompt"
	"phonon/internal/relay"
	"phonon/internal/telephony"
	"phonon/internal/tracker"
)

// State is where a session is in its lifecycle. It only moves forward.
type State string

const (
	StateDialing  State = "dialing"
	StateRinging  State = "ringing"
	StateAnswered State = "answered"
	StateEnded    State = "ended"
)

const (
	hangupTimeout  = 10 * time.Second
	persistTimeout = 5 * time.Second
	drainTimeout   = 3 * time.Second
)

// Session is one call. All of its mutable state is private to it.
type Session struct {
	m       *Manager
	call    calls.Call
	log     *slog.Logger
	tracker *tracker.Tracker

	startedAt time.Time

	// ctx lives until the session terminates.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	providerCallID string
	answeredAt     time.Time
	legEnded       bool
	attached       bool
	ending         bool
	holdsSlot      bool
	answerTimer    *time.Timer
	timers         []*time.Timer

	// emitMu guards the event queue; sealed is set by the terminal event.
	// Handlers run without emitMu held.
	emitMu     sync.Mutex
	sealed     bool
	pending    []calls.Event
	delivering bool

	endOnce  sync.Once
	convDone chan struct{}
	done     chan struct{}
	result   calls.CallResult
}

func newSession(m *Manager, call calls.Call, now time.Time, log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		m:         m,
		call:      call,
		log:       log,
		tracker:   tracker.New(call.Objective, call.Language, call.ExtractFields),
		startedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDialing,
		convDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.call.ID }

func (s *Session) Call() calls.Call { return s.call }

// Done is closed once the final result is available.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Progress() tracker.Progress {
	return s.tracker.Progress()
}

// Wait blocks until the call has a final result or ctx is done.
func (s *Session) Wait(ctx context.Context) (calls.CallResult, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return calls.CallResult{}, ctx.Err()
	}
}

// Snapshot returns the final result once the call ended, otherwise its current view.
func (s *Session) Snapshot() calls.CallResult {
	select {
	case <-s.done:
		return s.result
	default:
	}

	s.mu.Lock()
	state, providerID, answeredAt := s.state, s.providerCallID, s.answeredAt
	s.mu.Unlock()

	status := calls.CallStatusQueued
	switch state {
	case StateRinging:
		status = calls.CallStatusRinging
	case StateAnswered, StateEnded:
		status = calls.CallStatusInProgress
	}
	res := calls.CallResult{
		CallID:         s.call.ID,
		ProviderCallID: providerID,
		Status:         status,
		Transcript:     s.tracker.Transcript(),
		ExtractedData:  map[string]string{},
		StartedAt:      s.startedAt,
	}
	if !answeredAt.IsZero() {
		res.DurationSeconds = seconds(s.m.clock().Sub(answeredAt))
	}
	return res
}

// emit dispatches one event for this call. Nothing is emitted after a terminal event.
func (s *Session) emit(t calls.EventType, data any) {
	s.emitMu.Lock()
	s.enqueueLocked(t, data)
	s.drainLocked()
}

func (s *Session) enqueueLocked(t calls.EventType, data any) {
	if s.sealed {
		return
	}
	if t.Terminal() {
		s.sealed = true
	}
	s.pending = append(s.pending, calls.Event{Type: t, CallID: s.call.ID, Timestamp: s.m.clock(), Data: data})
}

// drainLocked delivers queued events in order on the calling goroutine and
// releases emitMu. When another goroutine is already delivering, it takes the
// queued events instead, so a handler may act on its own call without blocking.
func (s *Session) drainLocked() {
	if s.delivering {
		s.emitMu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		e := s.pending[0]
		s.pending = s.pending[1:]
		s.emitMu.Unlock()
		s.m.events.Emit(e)
		s.emitMu.Lock()
	}
	s.delivering = false
	s.emitMu.Unlock()
}

// dispatching reports whether a goroutine is inside this call's handlers.
func (s *Session) dispatching() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.delivering
}

// after runs fn once d elapses unless the session ends first.
func (s *Session) after(d time.Duration, fn func()) *time.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return nil
	}
	t := time.AfterFunc(d, fn)
	s.timers = append(s.timers, t)
	return t
}

// stoppedStatus is the status for a call we end ourselves.
func (s *Session) stoppedStatus() calls.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() {
		return calls.CallStatusCanceled
	}
	return calls.CallStatusCompleted
}

func (s *Session) dial() {
	if s.m.limiter != nil {
		ok, err := s.m.limiter.Acquire(s.ctx)
		switch {
		case err != nil:
			s.terminate(calls.CallStatusFailed, calls.EndReasonTelephonyError, fmt.Errorf("concurrency limiter: %w", err))
			return
		case !ok:
			s.terminate(calls.CallStatusFailed, calls.EndReasonTelephonyError, ErrCapacity)
			return
		}
		s.mu.Lock()
		ended := s.state == StateEnded
		s.holdsSlot = !ended
		s.mu.Unlock()
		if ended {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := s.m.limiter.Release(ctx); err != nil {
				s.log.Warn("release concurrency slot failed", "err", err)
			}
			return
		}
	}

	base := s.m.cfg.PublicBaseURL
	if s.call.WebhookURL != "" {
		base = trimSlash(s.call.WebhookURL)
	}
	req := telephony.PlaceCallRequest{
		CallID:            s.call.ID,
		To:                s.call.To,
		TwiMLURL:          base + "/twiml/" + s.call.ID,
		StatusCallbackURL: base + "/webhooks/twilio/status/" + s.call.ID,
		RingTimeout:       s.m.cfg.RingTimeout,
	}

	answerTimer := s.after(s.m.cfg.AnswerTimeout, func() {
		s.terminate(calls.CallStatusNoAnswer, calls.EndReasonTelephonyError,
			fmt.Errorf("not answered within %s", s.m.cfg.AnswerTimeout))
	})
	s.mu.Lock()
	if s.state == StateAnswered && answerTimer != nil {
		answerTimer.Stop()
	} else {
		s.answerTimer = answerTimer
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.m.cfg.PlaceTimeout)
	res, err := s.m.telephony.PlaceCall(ctx, req)
	cancel()
	if err != nil {
		s.log.Warn("place call failed", "provider", s.m.telephony.Name(), "retryable", telephony.IsRetryable(err), "err", err)
		s.terminate(calls.CallStatusFailed, calls.EndReasonTelephonyError, err)
		return
	}

	s.mu.Lock()
	s.providerCallID = res.ProviderCallID
	ended := s.state == StateEnded
	s.mu.Unlock()
	s.log.Info("call placed", "provider", s.m.telephony.Name(), "provider_call_id", res.ProviderCallID)

	if ended {
		// Terminated while the carrier request was in flight.
		s.hangupLeg(res.ProviderCallID)
		return
	}
	if res.State == telephony.LegRinging {
		s.markRinging()
	}
}

// State changes that emit hold emitMu across the change and the enqueue,
// so their events come out in transition order.

func (s *Session) markRinging() {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.state != StateDialing {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.state = StateRinging
	s.mu.Unlock()
	s.enqueueLocked(calls.EventRinging, nil)
	s.drainLocked()
}

func (s *Session) markAnswered() {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.state == StateAnswered || s.state == StateEnded {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.state = StateAnswered
	s.answeredAt = s.m.clock()
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
	s.mu.Unlock()
	s.enqueueLocked(calls.EventAnswered, nil)
	s.drainLocked()

	s.log.Info("call answered")
	s.after(s.call.MaxDuration, func() {
		s.log.Info("max duration reached", "max_duration", s.call.MaxDuration.String())
		s.terminate(calls.CallStatusCompleted, calls.EndReasonMaxDuration, nil)
	})
}

func (s *Session) onStatus(u telephony.StatusUpdate) {
	s.mu.Lock()
	if s.providerCallID == "" {
		s.providerCallID = u.ProviderCallID
	}
	if u.State.Terminal() {
		s.legEnded = true
	}
	s.mu.Unlock()

	s.log.Debug("carrier status", "status", u.RawStatus, "state", u.State)

	switch u.State {
	case telephony.LegRinging:
		s.markRinging()
	case telephony.LegAnswered:
		s.markAnswered()
	case telephony.LegCompleted:
		s.terminate(calls.CallStatusCompleted, calls.EndReasonHangup, nil)
	case telephony.LegBusy:
		s.terminate(calls.CallStatusBusy, calls.EndReasonTelephonyError, errors.New("destination busy"))
	case telephony.LegNoAnswer:
		s.terminate(calls.CallStatusNoAnswer, calls.EndReasonTelephonyError, errors.New("no answer"))
	case telephony.LegFailed:
		err := errors.New("carrier reported the call failed")
		if u.SIPResponseCode > 0 {
			err = fmt.Errorf("carrier reported the call failed (sip %d)", u.SIPResponseCode)
		}
		s.terminate(calls.CallStatusFailed, calls.EndReasonTelephonyError, err)
	case telephony.LegCanceled:
		s.terminate(calls.CallStatusCanceled, calls.EndReasonCanceled, nil)
	}
}

// converse bridges leg to a fresh agent session and follows the conversation
// until the call terminates.
func (s *Session) converse(ctx context.Context, leg telephony.MediaLeg) error {
	s.mu.Lock()
	switch {
	case s.state == StateEnded:
		s.mu.Unlock()
		return ErrEnded
	case s.attached:
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.attached = true
	s.mu.Unlock()
	defer close(s.convDone)

	s.markAnswered()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sess, err := s.m.agent.Dial(ctx, agent.Config{
		CallID: s.call.ID,
		Instructions: prompt.Build(prompt.Options{
			Objective: s.call.Objective,
			Context:   s.call.Context,
			Fields:    s.call.ExtractFields,
			Language:  s.call.Language,
			Override:  s.call.SystemPrompt,
		}),
		Voice:    s.call.Voice,
		Language: s.call.Language,
		Fields:   s.call.ExtractFields,
	})
	if err != nil {
		s.log.Error("agent dial failed", "err", err)
		s.terminate(calls.CallStatusFailed, calls.EndReasonAgentError, err)
		return err
	}
	defer sess.Close()

	r := relay.New(leg, sess, relay.Options{QueueFrames: s.m.cfg.QueueFrames, Log: s.log})

	relayDone := make(chan error, 1)
	go func() { relayDone <- r.Run(ctx) }()

	agentEvents := sess.Events()
	relayRunning := true
	for {
		select {
		case <-ctx.Done():
			if relayRunning {
				<-relayDone
			}
			st := r.Stats()
			s.log.Debug("relay stopped",
				"uplink_frames", st.UplinkFrames,
				"downlink_frames", st.DownlinkFrames,
				"dropped", st.Dropped,
				"discarded", st.Discarded,
				"interruptions", st.Interruptions,
			)
			// Covers a caller canceling ctx on its own; a no-op once terminated.
			s.terminate(s.stoppedStatus(), calls.EndReasonHangup, nil)
			return nil

		case err := <-relayDone:
			relayRunning = false
			s.onRelayEnd(err)

		case ev, ok := <-agentEvents:
			if !ok {
				agentEvents = nil
				s.onAgentGone()
				continue
			}
			s.onAgentEvent(ev, r)
		}
	}
}

func (s *Session) onRelayEnd(err error) {
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrLegClosed), errors.Is(err, telephony.ErrStreamClosed):
		s.mu.Lock()
		s.legEnded = true
		s.mu.Unlock()
		s.terminate(calls.CallStatusCompleted, calls.EndReasonHangup, nil)
	case errors.Is(err, relay.ErrAgentClosed):
		s.onAgentGone()
	default:
		s.terminate(calls.CallStatusFailed, calls.EndReasonAgentError, err)
	}
}

// onAgentGone handles the agent session closing. After the agent ended the
// conversation this is the expected way out; otherwise it is a failure.
func (s *Session) onAgentGone() {
	s.mu.Lock()
	ending := s.ending
	s.mu.Unlock()
	if ending {
		s.terminate(calls.CallStatusCompleted, calls.EndReasonObjectiveComplete, nil)
		return
	}
	s.terminate(calls.CallStatusFailed, calls.EndReasonAgentError, agent.ErrSessionClosed)
}

func (s *Session) onAgentEvent(ev agent.Event, r *relay.Relay) {
	switch ev.Kind {
	case agent.EventTranscript:
		entry, ok := s.tracker.Observe(calls.TranscriptEntry{
			Speaker:    ev.Speaker,
			Text:       ev.Text,
			Timestamp:  s.offset(),
			Confidence: ev.Confidence,
		})
		if ok {
			s.emit(calls.EventTranscript, entry)
		}

	case agent.EventUserStartedSpeaking:
		r.Interrupt()

	case agent.EventAgentAudioDone:
		s.log.Debug("agent finished speaking")

	case agent.EventFieldCaptured:
		if s.tracker.Record(ev.Field, ev.Value) {
			s.log.Info("field captured", "field", ev.Field)
		} else {
			s.log.Debug("field ignored", "field", ev.Field)
		}

	case agent.EventConversationEnd:
		s.tracker.MarkObjective(ev.ObjectiveAchieved, ev.Summary)
		s.mu.Lock()
		already := s.ending
		s.ending = true
		s.mu.Unlock()
		if already {
			return
		}
		s.log.Info("agent ended conversation", "objective_achieved", ev.ObjectiveAchieved)
		s.after(s.m.cfg.EndCallGrace, func() {
			s.terminate(calls.CallStatusCompleted, calls.EndReasonObjectiveComplete, nil)
		})

	case agent.EventError:
		err := ev.Err
		if err == nil {
			err = agent.ErrRemote
		}
		s.log.Error("agent error", "err", err)
		s.terminate(calls.CallStatusFailed, calls.EndReasonAgentError, err)
	}
}

// offset is seconds since the callee answered.
func (s *Session) offset() float64 {
	s.mu.Lock()
	origin := s.answeredAt
	s.mu.Unlock()
	if origin.IsZero() {
		origin = s.startedAt
	}
	return seconds(s.m.clock().Sub(origin))
}

// terminate ends the session exactly once. Audio forwarding stops immediately;
// the result is assembled in the background and delivered through Done.
func (s *Session) terminate(status calls.CallStatus, reason calls.EndReason, cause error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = nil
		s.mu.Unlock()
		s.cancel()

		s.log.Info("call terminating", "status", status, "reason", reason)
		go s.finish(ending{status: status, reason: reason, cause: cause, at: s.m.clock()})
	})
}

func (s *Session) finish(e ending) {
	defer close(s.done)

	s.mu.Lock()
	attached := s.attached
	providerID := s.providerCallID
	hangup := providerID != "" && !s.legEnded
	answeredAt := s.answeredAt
	holdsSlot := s.holdsSlot
	s.mu.Unlock()

	if hangup {
		s.hangupLeg(providerID)
	}
	// A handler running on the conversation goroutine may itself be waiting
	// for this result; the tracker is sealed below either way.
	if attached && !s.dispatching() {
		select {
		case <-s.convDone:
		case <-time.After(drainTimeout):
			s.log.Warn("conversation did not stop in time")
		}
	}

	fctx, cancel := context.WithTimeout(context.Background(), s.m.cfg.FinalizeTimeout)
	out := s.tracker.Finalize(fctx, s.m.evaluator)
	cancel()
	if out.EvaluationErr != nil {
		s.log.Warn("conversation evaluation failed", "err", out.EvaluationErr)
	}

	s.mu.Lock()
	providerID = s.providerCallID
	s.mu.Unlock()
	res := buildResult(s.call, providerID, e, out, s.startedAt, answeredAt)
	s.result = res

	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := s.m.results.SaveResult(pctx, s.call, res); err != nil {
		s.log.Error("save result failed", "err", err)
	}
	if holdsSlot {
		if err := s.m.limiter.Release(pctx); err != nil {
			s.log.Warn("release concurrency slot failed", "err", err)
		}
	}
	cancel()

	s.m.remove(s.call.ID)

	s.log.Info("call ended",
		"status", res.Status,
		"reason", res.EndReason,
		"duration_seconds", res.DurationSeconds,
		"turns", len(res.Transcript),
		"objective_achieved", res.ObjectiveAchieved,
	)
	if res.Status == calls.CallStatusFailed {
		s.emit(calls.EventError, res)
	} else {
		s.emit(calls.EventEnded, res)
	}
	// done closes even when another goroutine still holds the terminal event,
	// which happens when one of its handlers is waiting on this call.
}

func (s *Session) hangupLeg(providerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := s.m.telephony.Hangup(ctx, providerID); err != nil {
		s.log.Warn("hangup failed", "provider_call_id", providerID, "err", err)
	}
}
