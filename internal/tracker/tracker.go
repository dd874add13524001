// Package tracker follows a live conversation: it keeps the transcript, judges the
// objective and collects requested fields as they come up.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"phonon/internal/calls"
)

// Evaluator judges a finished conversation. It runs once, at Finalize.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvaluationInput) (Evaluation, error)
}

type EvaluationInput struct {
	Objective  string
	Language   string
	Fields     []string
	Transcript []calls.TranscriptEntry
}

type Evaluation struct {
	Summary string
	// ObjectiveAchieved is nil when the evaluator could not decide.
	ObjectiveAchieved *bool
	Fields            map[string]string
}

// Outcome is the tracker's final state for one call.
type Outcome struct {
	Transcript        []calls.TranscriptEntry
	Summary           string
	ObjectiveAchieved bool
	ExtractedData     map[string]string

	// EvaluationErr is set when the evaluator failed; the outcome then falls back to tracker state.
	EvaluationErr error
}

// Progress is a point-in-time view of the running judgment.
type Progress struct {
	Turns             int      `json:"turns"`
	Captured          []string `json:"captured"`
	Missing           []string `json:"missing"`
	ObjectiveMarked   bool     `json:"objective_marked"`
	ObjectiveAchieved bool     `json:"objective_achieved"`
}

// Tracker is safe for concurrent use. After Finalize it ignores further input.
type Tracker struct {
	mu sync.Mutex

	objective string
	language  string
	fields    []string
	requested map[string]struct{}

	transcript []calls.TranscriptEntry
	lastTS     float64

	// authoritative values come from the agent; candidates from label heuristics.
	authoritative map[string]string
	candidates    map[string]string
	asked         []string

	objectiveMarked bool
	achieved        bool
	summary         string

	sealed bool
}

func New(objective, language string, fields []string) *Tracker {
	t := &Tracker{
		objective:     objective,
		language:      language,
		requested:     make(map[string]struct{}, len(fields)),
		authoritative: map[string]string{},
		candidates:    map[string]string{},
	}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := t.requested[f]; dup {
			continue
		}
		t.requested[f] = struct{}{}
		t.fields = append(t.fields, f)
	}
	return t
}

// Observe appends a finalized utterance and returns the entry as stored.
// Entries with an unknown speaker or no text are ignored (ok is false).
// Timestamps are clamped so the transcript never goes backwards.
func (t *Tracker) Observe(e calls.TranscriptEntry) (stored calls.TranscriptEntry, ok bool) {
	text := strings.TrimSpace(e.Text)
	if !e.Speaker.Valid() || text == "" {
		return calls.TranscriptEntry{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return calls.TranscriptEntry{}, false
	}

	e.Text = text
	if e.Timestamp < t.lastTS {
		e.Timestamp = t.lastTS
	}
	if e.Timestamp < 0 {
		e.Timestamp = 0
	}
	t.lastTS = e.Timestamp
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		e.Confidence = nil
	}
	t.transcript = append(t.transcript, e)

	switch e.Speaker {
	case calls.SpeakerAgent:
		t.asked = t.mentionedMissing(text)
	case calls.SpeakerHuman:
		t.scanCandidates(text)
		t.asked = nil
	}
	return e, true
}

// Record stores a value reported by the agent. Names that were not requested are ignored.
func (t *Tracker) Record(name, value string) bool {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return false
	}
	if _, ok := t.requested[name]; !ok {
		return false
	}
	t.authoritative[name] = value
	return true
}

// MarkObjective records the agent's own verdict on the objective.
func (t *Tracker) MarkObjective(achieved bool, summary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.objectiveMarked = true
	t.achieved = achieved
	if s := strings.TrimSpace(summary); s != "" {
		t.summary = s
	}
}

func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Progress{
		Turns:             len(t.transcript),
		Captured:          []string{},
		Missing:           []string{},
		ObjectiveMarked:   t.objectiveMarked,
		ObjectiveAchieved: t.achieved,
	}
	for _, f := range t.fields {
		if t.valueLocked(f) != "" {
			p.Captured = append(p.Captured, f)
		} else {
			p.Missing = append(p.Missing, f)
		}
	}
	return p
}

// Complete reports whether the objective is met and every requested field has a value.
func (t *Tracker) Complete() bool {
	p := t.Progress()
	return p.ObjectiveAchieved && len(p.Missing) == 0
}

func (t *Tracker) Transcript() []calls.TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]calls.TranscriptEntry{}, t.transcript...)
}

// Finalize seals the tracker and produces the outcome. ev may be nil.
// Extracted keys are always a subset of the requested fields.
func (t *Tracker) Finalize(ctx context.Context, ev Evaluator) Outcome {
	t.mu.Lock()
	t.sealed = true
	transcript := append([]calls.TranscriptEntry{}, t.transcript...)
	fields := append([]string(nil), t.fields...)
	t.mu.Unlock()

	var (
		eval    Evaluation
		evalErr error
	)
	if ev != nil && len(transcript) > 0 {
		eval, evalErr = ev.Evaluate(ctx, EvaluationInput{
			Objective:  t.objective,
			Language:   t.language,
			Fields:     fields,
			Transcript: transcript,
		})
		if evalErr != nil {
			eval = Evaluation{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := Outcome{
		Transcript:    transcript,
		ExtractedData: map[string]string{},
		EvaluationErr: evalErr,
	}
	for _, f := range fields {
		v := t.authoritative[f]
		if v == "" {
			v = strings.TrimSpace(eval.Fields[f])
		}
		if v == "" {
			v = t.candidates[f]
		}
		if v != "" {
			out.ExtractedData[f] = v
		}
	}

	switch {
	case t.objectiveMarked:
		out.ObjectiveAchieved = t.achieved
	case eval.ObjectiveAchieved != nil:
		out.ObjectiveAchieved = *eval.ObjectiveAchieved
	}

	switch {
	case strings.TrimSpace(eval.Summary) != "":
		out.Summary = strings.TrimSpace(eval.Summary)
	case t.summary != "":
		out.Summary = t.summary
	case len(transcript) > 0:
		out.Summary = fmt.Sprintf("Conversation of %d turns; captured %d of %d requested fields.",
			len(transcript), len(out.ExtractedData), len(fields))
	}
	return out
}

func (t *Tracker) valueLocked(f string) string {
	if v := t.authoritative[f]; v != "" {
		return v
	}
	return t.candidates[f]
}
