// Package llm judges finished conversations with a chat model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"phonon/internal/tracker"
)

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrBadResponse   = errors.New("llm: undecodable response")
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You review transcripts of phone calls placed by an assistant on behalf of a user.
Reply with a single JSON object and nothing else:
{"summary": string, "objective_achieved": true|false|null, "fields": {"<field>": "<value>"}}
- summary: two or three sentences, in the language of the call.
- objective_achieved: null if the transcript does not let you decide.
- fields: only the requested field names, only values actually stated in the call.`

type completeFunc func(ctx context.Context, system, user string) (string, error)

// OpenAIEvaluator implements tracker.Evaluator over the chat completions API.
type OpenAIEvaluator struct {
	complete completeFunc
	timeout  time.Duration
}

func NewOpenAIEvaluator(apiKey, model string, opts ...option.RequestOption) *OpenAIEvaluator {
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &OpenAIEvaluator{
		timeout: 20 * time.Second,
		complete: func(ctx context.Context, system, user string) (string, error) {
			resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(user),
				},
				Model: openai.ChatModel(model),
			})
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", ErrEmptyResponse
			}
			return resp.Choices[0].Message.Content, nil
		},
	}
}

func (e *OpenAIEvaluator) Evaluate(ctx context.Context, in tracker.EvaluationInput) (tracker.Evaluation, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	content, err := e.complete(ctx, systemPrompt, userPrompt(in))
	if err != nil {
		return tracker.Evaluation{}, fmt.Errorf("llm: evaluate: %w", err)
	}
	return parseEvaluation(content, in.Fields)
}

func userPrompt(in tracker.EvaluationInput) string {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(in.Objective)
	b.WriteString("\n")
	if in.Language != "" {
		b.WriteString("Language: ")
		b.WriteString(in.Language)
		b.WriteString("\n")
	}
	if len(in.Fields) > 0 {
		b.WriteString("Requested fields: ")
		b.WriteString(strings.Join(in.Fields, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	for _, e := range in.Transcript {
		fmt.Fprintf(&b, "[%06.1fs] %s: %s\n", e.Timestamp, e.Speaker, e.Text)
	}
	return b.String()
}

type evaluationJSON struct {
	Summary           string         `json:"summary"`
	ObjectiveAchieved *bool          `json:"objective_achieved"`
	Fields            map[string]any `json:"fields"`
}

// parseEvaluation tolerates code fences and prose around the JSON object,
// and drops fields that were not requested.
func parseEvaluation(content string, requested []string) (tracker.Evaluation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return tracker.Evaluation{}, ErrEmptyResponse
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return tracker.Evaluation{}, ErrBadResponse
	}

	var raw evaluationJSON
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return tracker.Evaluation{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	out := tracker.Evaluation{
		Summary:           strings.TrimSpace(raw.Summary),
		ObjectiveAchieved: raw.ObjectiveAchieved,
		Fields:            map[string]string{},
	}
	for _, f := range requested {
		v, ok := raw.Fields[f]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out.Fields[f] = s
		}
	}
	return out, nil
}
