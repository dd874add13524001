package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"phonon/internal/agent"
	"phonon/internal/calls"
	"phonon/internal/telephony"
	"phonon/internal/tracker"
)

type stubProvider struct {
	mu     sync.Mutex
	err    error
	placed []telephony.PlaceCallRequest
	hungup []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, req)
	if p.err != nil {
		return telephony.PlaceCallResult{}, p.err
	}
	return telephony.PlaceCallResult{ProviderCallID: "CA" + req.CallID, State: telephony.LegInitiated}, nil
}

func (p *stubProvider) Hangup(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hungup = append(p.hungup, providerCallID)
	return nil
}

func (p *stubProvider) hangups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hungup...)
}

type stubAgent struct {
	audio     chan []byte
	events    chan agent.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newStubAgent() *stubAgent {
	return &stubAgent{
		audio:  make(chan []byte, 16),
		events: make(chan agent.Event, 16),
		closed: make(chan struct{}),
	}
}

func (a *stubAgent) SendAudio(ctx context.Context, frame []byte) error { return nil }

func (a *stubAgent) Audio() <-chan []byte { return a.audio }

func (a *stubAgent) Events() <-chan agent.Event { return a.events }

func (a *stubAgent) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

type stubDialer struct {
	mu   sync.Mutex
	sess *stubAgent
	err  error
	cfgs []agent.Config
}

func (d *stubDialer) Dial(ctx context.Context, cfg agent.Config) (agent.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfgs = append(d.cfgs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type stubLeg struct {
	in     chan []byte
	done   chan struct{}
	mu     sync.Mutex
	clears int
}

func newStubLeg() *stubLeg {
	return &stubLeg{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (l *stubLeg) Inbound() <-chan []byte { return l.in }

func (l *stubLeg) Send(ctx context.Context, frame []byte) error { return nil }

func (l *stubLeg) Done() <-chan struct{} { return l.done }

func (l *stubLeg) Close() error { return nil }

func (l *stubLeg) Clear() error {
	l.mu.Lock()
	l.clears++
	l.mu.Unlock()
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []calls.Event
}

func (r *recorder) handle(e calls.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t calls.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last() calls.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestManager(p *stubProvider, d *stubDialer, opts Options) (*Manager, *recorder) {
	if opts.Config.EndCallGrace == 0 {
		opts.Config.EndCallGrace = 10 * time.Millisecond
	}
	m := NewManager(p, d, opts)
	rec := &recorder{}
	m.OnEvent(rec.handle)
	return m, rec
}

func waitResult(t *testing.T, s *Session) calls.CallResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("call did not finish: %v", err)
	}
	return res
}

func waitPlaced(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().ProviderCallID == "" {
		if time.Now().After(deadline) {
			t.Fatalf("call was never placed")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func baseRequest() calls.CallRequest {
	return calls.CallRequest{
		To:            "+56912345678",
		Objective:     "Ask about TAG return requirements",
		ExtractFields: []string{"name"},
	}
}

func TestPlaceCall_InitiationFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("carrier unreachable")}
	m, rec := newTestManager(p, &stubDialer{}, Options{})

	res := m.PlaceCall(context.Background(), baseRequest())
	if res.Status != calls.CallStatusFailed {
		t.Fatalf("status=%s", res.Status)
	}
	if res.DurationSeconds != 0 {
		t.Fatalf("duration=%v", res.DurationSeconds)
	}
	if len(res.Transcript) != 0 {
		t.Fatalf("transcript=%v", res.Transcript)
	}
	if res.Error == "" {
		t.Fatalf("expected error text")
	}
	if res.EndReason != calls.EndReasonTelephonyError {
		t.Fatalf("reason=%s", res.EndReason)
	}
	if rec.count(calls.EventStarted) != 1 || rec.count(calls.EventError) != 1 || rec.count(calls.EventEnded) != 0 {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
	if rec.last().Type != calls.EventError {
		t.Fatalf("last event=%s", rec.last().Type)
	}
}

func TestPlaceCall_InvalidRequestFails(t *testing.T) {
	p := &stubProvider{}
	m, rec := newTestManager(p, &stubDialer{}, Options{})

	res := m.PlaceCall(context.Background(), calls.CallRequest{To: "+1555"})
	if res.Status != calls.CallStatusFailed || res.Error == "" {
		t.Fatalf("res=%+v", res)
	}
	if len(p.placed) != 0 {
		t.Fatalf("invalid request reached the carrier")
	}
	if rec.count(calls.EventStarted) != 1 || rec.count(calls.EventError) != 1 {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
}

func TestCall_SuccessfulConversation(t *testing.T) {
	p := &stubProvider{}
	ag := newStubAgent()
	d := &stubDialer{sess: ag}
	m, rec := newTestManager(p, d, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)

	if p.placed[0].TwiMLURL != DefaultPublicBaseURL+"/twiml/"+s.ID() {
		t.Fatalf("twiml url=%s", p.placed[0].TwiMLURL)
	}
	if err := m.HandleStatus(context.Background(), s.ID(), telephony.StatusUpdate{State: telephony.LegRinging}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.State() != StateRinging {
		t.Fatalf("state=%s", s.State())
	}

	leg := newStubLeg()
	attached := make(chan error, 1)
	go func() { attached <- m.AttachMedia(context.Background(), s.ID(), leg) }()

	ag.events <- agent.Event{Kind: agent.EventTranscript, Speaker: calls.SpeakerAgent, Text: "Hola, ¿con quién hablo?"}
	ag.events <- agent.Event{Kind: agent.EventTranscript, Speaker: calls.SpeakerHuman, Text: "Habla Juan"}
	ag.events <- agent.Event{Kind: agent.EventUserStartedSpeaking}
	ag.events <- agent.Event{Kind: agent.EventFieldCaptured, Field: "name", Value: "Juan"}
	ag.events <- agent.Event{Kind: agent.EventFieldCaptured, Field: "unrequested", Value: "x"}
	ag.events <- agent.Event{Kind: agent.EventConversationEnd, ObjectiveAchieved: true, Summary: "Juan answered."}

	res := waitResult(t, s)
	if err := <-attached; err != nil {
		t.Fatalf("attach: %v", err)
	}

	if res.Status != calls.CallStatusCompleted || res.EndReason != calls.EndReasonObjectiveComplete {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if len(res.Transcript) != 2 || res.Transcript[1].Speaker != calls.SpeakerHuman {
		t.Fatalf("transcript=%+v", res.Transcript)
	}
	if !res.ObjectiveAchieved || res.Summary != "Juan answered." {
		t.Fatalf("objective=%v summary=%q", res.ObjectiveAchieved, res.Summary)
	}
	if len(res.ExtractedData) != 1 || res.ExtractedData["name"] != "Juan" {
		t.Fatalf("extracted=%v", res.ExtractedData)
	}
	if res.Error != "" {
		t.Fatalf("error=%q", res.Error)
	}

	if rec.count(calls.EventStarted) != 1 || rec.count(calls.EventRinging) != 1 || rec.count(calls.EventAnswered) != 1 {
		t.Fatalf("lifecycle events: %+v", rec.events)
	}
	if rec.count(calls.EventTranscript) != 2 {
		t.Fatalf("transcript events=%d", rec.count(calls.EventTranscript))
	}
	if rec.count(calls.EventEnded) != 1 || rec.count(calls.EventError) != 0 || rec.last().Type != calls.EventEnded {
		t.Fatalf("terminal events: %+v", rec.events)
	}
	if got := rec.last().Data.(calls.CallResult); got.CallID != s.ID() {
		t.Fatalf("ended payload=%+v", got)
	}

	leg.mu.Lock()
	clears := leg.clears
	leg.mu.Unlock()
	if clears != 1 {
		t.Fatalf("barge-in clears=%d", clears)
	}
	if h := p.hangups(); len(h) != 1 || h[0] != "CA"+s.ID() {
		t.Fatalf("hangups=%v", h)
	}
	if len(d.cfgs) != 1 || d.cfgs[0].Voice != DefaultVoice || d.cfgs[0].Language != DefaultLanguage {
		t.Fatalf("agent config=%+v", d.cfgs)
	}
	if m.Active(s.ID()) {
		t.Fatalf("session still active")
	}

	stored, err := m.Result(context.Background(), s.ID())
	if err != nil || stored.Status != calls.CallStatusCompleted {
		t.Fatalf("stored=%+v err=%v", stored, err)
	}
}

func TestCall_AgentErrorKeepsPartialTranscript(t *testing.T) {
	ag := newStubAgent()
	m, rec := newTestManager(&stubProvider{}, &stubDialer{sess: ag}, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	go m.AttachMedia(context.Background(), s.ID(), newStubLeg())

	ag.events <- agent.Event{Kind: agent.EventTranscript, Speaker: calls.SpeakerAgent, Text: "Buenos días"}
	ag.events <- agent.Event{Kind: agent.EventError, Err: errors.New("boom")}

	res := waitResult(t, s)
	if res.Status != calls.CallStatusFailed || res.EndReason != calls.EndReasonAgentError {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if len(res.Transcript) != 1 {
		t.Fatalf("transcript=%+v", res.Transcript)
	}
	if res.Error != "boom" {
		t.Fatalf("error=%q", res.Error)
	}
	if rec.count(calls.EventError) != 1 || rec.count(calls.EventEnded) != 0 || rec.last().Type != calls.EventError {
		t.Fatalf("events=%+v", rec.events)
	}
}

func TestCall_AgentDialFailureIsTerminal(t *testing.T) {
	d := &stubDialer{err: agent.ErrDial}
	m, _ := newTestManager(&stubProvider{}, d, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	if err := m.AttachMedia(context.Background(), s.ID(), newStubLeg()); !errors.Is(err, agent.ErrDial) {
		t.Fatalf("attach err=%v", err)
	}

	res := waitResult(t, s)
	if res.Status != calls.CallStatusFailed || res.EndReason != calls.EndReasonAgentError {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if len(d.cfgs) != 1 {
		t.Fatalf("dial attempts=%d", len(d.cfgs))
	}
}

func TestCall_MaxDuration(t *testing.T) {
	m, _ := newTestManager(&stubProvider{}, &stubDialer{sess: newStubAgent()}, Options{})

	req := baseRequest()
	req.MaxDuration = 30 * time.Millisecond
	s := m.StartCall(context.Background(), req)
	waitPlaced(t, s)
	go m.AttachMedia(context.Background(), s.ID(), newStubLeg())

	res := waitResult(t, s)
	if res.Status != calls.CallStatusCompleted || res.EndReason != calls.EndReasonMaxDuration {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if res.DurationSeconds <= 0 {
		t.Fatalf("duration=%v", res.DurationSeconds)
	}
}

func TestCall_LegHangupEndsCall(t *testing.T) {
	p := &stubProvider{}
	m, _ := newTestManager(p, &stubDialer{sess: newStubAgent()}, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	leg := newStubLeg()
	go m.AttachMedia(context.Background(), s.ID(), leg)
	close(leg.in)

	res := waitResult(t, s)
	if res.Status != calls.CallStatusCompleted || res.EndReason != calls.EndReasonHangup {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if h := p.hangups(); len(h) != 0 {
		t.Fatalf("carrier leg already ended, hangups=%v", h)
	}
}

func TestHandleStatus_BusyAndUnknown(t *testing.T) {
	p := &stubProvider{}
	m, rec := newTestManager(p, &stubDialer{}, Options{})

	if err := m.HandleStatus(context.Background(), "phn_missing", telephony.StatusUpdate{State: telephony.LegBusy}); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("unknown call err=%v", err)
	}

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	if err := m.HandleStatus(context.Background(), s.ID(), telephony.StatusUpdate{State: telephony.LegBusy}); err != nil {
		t.Fatalf("status: %v", err)
	}

	res := waitResult(t, s)
	if res.Status != calls.CallStatusBusy {
		t.Fatalf("status=%s", res.Status)
	}
	if rec.count(calls.EventEnded) != 1 || rec.count(calls.EventError) != 0 {
		t.Fatalf("events=%+v", rec.events)
	}
	if h := p.hangups(); len(h) != 0 {
		t.Fatalf("hangups=%v", h)
	}
}

func TestHangup_Idempotent(t *testing.T) {
	p := &stubProvider{}
	m, rec := newTestManager(p, &stubDialer{}, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)

	first, err := m.Hangup(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if first.Status != calls.CallStatusCanceled || first.EndReason != calls.EndReasonCanceled {
		t.Fatalf("status=%s reason=%s", first.Status, first.EndReason)
	}
	second, err := m.Hangup(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("second hangup: %v", err)
	}
	if second.CallID != first.CallID || second.Status != first.Status {
		t.Fatalf("second=%+v first=%+v", second, first)
	}
	s.terminate(calls.CallStatusFailed, calls.EndReasonAgentError, errors.New("late"))

	if n := len(p.hangups()); n != 1 {
		t.Fatalf("carrier hangups=%d", n)
	}
	if rec.count(calls.EventEnded)+rec.count(calls.EventError) != 1 {
		t.Fatalf("terminal events=%+v", rec.events)
	}
}

func TestPlaceCall_WebhookURLIsABase(t *testing.T) {
	p := &stubProvider{}
	m, _ := newTestManager(p, &stubDialer{}, Options{})

	req := baseRequest()
	req.WebhookURL = "https://hooks.phonon.sh/tenant-a/"
	s := m.StartCall(context.Background(), req)
	waitPlaced(t, s)

	p.mu.Lock()
	placed := p.placed[0]
	p.mu.Unlock()
	if placed.TwiMLURL != "https://hooks.phonon.sh/tenant-a/twiml/"+s.ID() {
		t.Fatalf("twiml url=%s", placed.TwiMLURL)
	}
	if placed.StatusCallbackURL != "https://hooks.phonon.sh/tenant-a/webhooks/twilio/status/"+s.ID() {
		t.Fatalf("status url=%s", placed.StatusCallbackURL)
	}
	if _, err := m.Hangup(context.Background(), s.ID()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
}

func TestCall_AnswerTimeoutIsNoAnswer(t *testing.T) {
	p := &stubProvider{}
	m, rec := newTestManager(p, &stubDialer{}, Options{Config: Config{AnswerTimeout: 50 * time.Millisecond}})

	s := m.StartCall(context.Background(), baseRequest())
	res := waitResult(t, s)
	if res.Status != calls.CallStatusNoAnswer || res.EndReason != calls.EndReasonTelephonyError {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
	if res.Error != "not answered within 50ms" {
		t.Fatalf("error=%q", res.Error)
	}
	if res.DurationSeconds != 0 {
		t.Fatalf("duration=%v", res.DurationSeconds)
	}
	if h := p.hangups(); len(h) != 1 || h[0] != "CA"+s.ID() {
		t.Fatalf("hangups=%v", h)
	}
	if rec.count(calls.EventAnswered) != 0 || rec.last().Type != calls.EventEnded {
		t.Fatalf("events=%+v", rec.events)
	}
}

func TestHandleStatus_LateRingingAfterAnswer(t *testing.T) {
	m, rec := newTestManager(&stubProvider{}, &stubDialer{}, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	for _, st := range []telephony.LegState{telephony.LegAnswered, telephony.LegRinging, telephony.LegAnswered} {
		if err := m.HandleStatus(context.Background(), s.ID(), telephony.StatusUpdate{State: st}); err != nil {
			t.Fatalf("status %s: %v", st, err)
		}
	}
	if s.State() != StateAnswered {
		t.Fatalf("state=%s", s.State())
	}
	if rec.count(calls.EventAnswered) != 1 || rec.count(calls.EventRinging) != 0 {
		t.Fatalf("events=%+v", rec.events)
	}

	if _, err := m.Hangup(context.Background(), s.ID()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
}

func TestCall_HandlerCanHangUpItsOwnCall(t *testing.T) {
	p := &stubProvider{}
	ag := newStubAgent()
	m, rec := newTestManager(p, &stubDialer{sess: ag}, Options{})

	type outcome struct {
		res calls.CallResult
		err error
	}
	hungUp := make(chan outcome, 1)
	var once sync.Once
	m.OnEvent(func(e calls.Event) {
		if e.Type != calls.EventTranscript {
			return
		}
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := m.Hangup(ctx, e.CallID)
			hungUp <- outcome{res, err}
		})
	})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	go m.AttachMedia(context.Background(), s.ID(), newStubLeg())
	ag.events <- agent.Event{Kind: agent.EventTranscript, Speaker: calls.SpeakerHuman, Text: "No me llames más"}

	var got outcome
	select {
	case got = <-hungUp:
	case <-time.After(2 * time.Second):
		t.Fatalf("hangup from an event handler did not return")
	}
	if got.err != nil {
		t.Fatalf("hangup: %v", got.err)
	}
	if got.res.Status != calls.CallStatusCompleted || got.res.EndReason != calls.EndReasonCanceled {
		t.Fatalf("status=%s reason=%s", got.res.Status, got.res.EndReason)
	}
	if len(got.res.Transcript) != 1 {
		t.Fatalf("transcript=%+v", got.res.Transcript)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count(calls.EventEnded) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ended event never delivered: %+v", rec.events)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if rec.last().Type != calls.EventEnded {
		t.Fatalf("events after terminal: %+v", rec.events)
	}
	if h := p.hangups(); len(h) != 1 {
		t.Fatalf("hangups=%v", h)
	}
}

func TestPlaceCall_CallerCancelHangsUp(t *testing.T) {
	m, _ := newTestManager(&stubProvider{}, &stubDialer{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := m.PlaceCall(ctx, baseRequest())
	if res.Status != calls.CallStatusCanceled || res.EndReason != calls.EndReasonCanceled {
		t.Fatalf("status=%s reason=%s", res.Status, res.EndReason)
	}
}

func TestShutdown(t *testing.T) {
	m, _ := newTestManager(&stubProvider{}, &stubDialer{}, Options{})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	res := waitResult(t, s)
	if res.EndReason != calls.EndReasonShutdown {
		t.Fatalf("reason=%s", res.EndReason)
	}

	late := m.PlaceCall(context.Background(), baseRequest())
	if late.Status != calls.CallStatusFailed || late.EndReason != calls.EndReasonShutdown {
		t.Fatalf("late=%+v", late)
	}
}

type stubLimiter struct {
	mu       sync.Mutex
	allow    bool
	released int
}

func (l *stubLimiter) Acquire(ctx context.Context) (bool, error) { return l.allow, nil }

func (l *stubLimiter) Release(ctx context.Context) error {
	l.mu.Lock()
	l.released++
	l.mu.Unlock()
	return nil
}

func TestLimiter(t *testing.T) {
	rejecting := &stubLimiter{}
	m, _ := newTestManager(&stubProvider{}, &stubDialer{}, Options{Limiter: rejecting})
	res := m.PlaceCall(context.Background(), baseRequest())
	if res.Status != calls.CallStatusFailed || res.Error != ErrCapacity.Error() {
		t.Fatalf("res=%+v", res)
	}
	if rejecting.released != 0 {
		t.Fatalf("released a slot never acquired")
	}

	allowing := &stubLimiter{allow: true}
	m, _ = newTestManager(&stubProvider{}, &stubDialer{}, Options{Limiter: allowing})
	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	if _, err := m.Hangup(context.Background(), s.ID()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	allowing.mu.Lock()
	defer allowing.mu.Unlock()
	if allowing.released != 1 {
		t.Fatalf("released=%d", allowing.released)
	}
}

type stubEvaluator struct {
	got tracker.EvaluationInput
}

func (e *stubEvaluator) Evaluate(ctx context.Context, in tracker.EvaluationInput) (tracker.Evaluation, error) {
	e.got = in
	return tracker.Evaluation{Summary: "Evaluated.", Fields: map[string]string{"name": "Juan"}}, nil
}

func TestCall_EvaluatorFillsGaps(t *testing.T) {
	ag := newStubAgent()
	ev := &stubEvaluator{}
	m, _ := newTestManager(&stubProvider{}, &stubDialer{sess: ag}, Options{Evaluator: ev})

	s := m.StartCall(context.Background(), baseRequest())
	waitPlaced(t, s)
	go m.AttachMedia(context.Background(), s.ID(), newStubLeg())
	ag.events <- agent.Event{Kind: agent.EventTranscript, Speaker: calls.SpeakerHuman, Text: "Soy Juan"}
	ag.events <- agent.Event{Kind: agent.EventConversationEnd, ObjectiveAchieved: true}

	res := waitResult(t, s)
	if res.Summary != "Evaluated." || res.ExtractedData["name"] != "Juan" {
		t.Fatalf("res=%+v", res)
	}
	if len(ev.got.Transcript) != 1 || ev.got.Objective != baseRequest().Objective {
		t.Fatalf("evaluator input=%+v", ev.got)
	}
}

func TestNewCallID(t *testing.T) {
	re := regexp.MustCompile(`^phn_\d{13}_[0-9a-z]{9}$`)
	a, b := NewCallID(), NewCallID()
	if !re.MatchString(a) {
		t.Fatalf("id=%q", a)
	}
	if a == b {
		t.Fatalf("ids collide: %q", a)
	}
}
