// Package session drives one realtime interview session: it owns the session
// state machine, wires microphone capture and model audio playback to a live
// transport, reconciles the transcript, and produces a feedback report once
// the conversation ends.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// errMalformedReport is returned when the model output is not a usable report.
var errMalformedReport = errors.New("session: malformed report")

// Report is the structured feedback produced at the end of a session.
type Report struct {
	// Overall is a short paragraph judging the candidate's performance.
	Overall string `json:"overall"`

	// Score rates the performance from 1 to 10.
	Score int `json:"score"`

	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// SummaryRequest is the input of a [Summariser].
type SummaryRequest struct {
	Role    string
	Topic   string
	Entries []transcript.Entry
}

// Summariser produces a feedback report from a finished transcript.
type Summariser interface {
	Summarise(ctx context.Context, req SummaryRequest) (*Report, error)
}

// summarisationPrompt is the system prompt sent to the LLM when producing the
// feedback report.
const summarisationPrompt = `You are an experienced interview coach. You will receive the transcript of a
mock interview between a candidate ([Caller]) and an interviewer ([Remote]).
Judge only the candidate. Reply with a single JSON object and nothing else:
{"overall": string, "score": integer 1-10, "strengths": [string], "improvements": [string]}
Keep each list to at most five concise items.`

// LLMSummariser uses an LLM provider to produce the report.
type LLMSummariser struct {
	llm         llm.Provider
	temperature float64
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider, temperature: 0.3}
}

// Summarise sends the formatted transcript to the LLM and parses its JSON
// reply into a [Report].
func (s *LLMSummariser) Summarise(ctx context.Context, req SummaryRequest) (*Report, error) {
	if len(req.Entries) == 0 {
		return nil, ErrEmptyTranscript
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\nTopic: %s\n\nTranscript:\n", req.Role, req.Topic)
	sb.WriteString(transcript.Format(req.Entries))

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: s.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("summarise: %w", err)
	}
	return parseReport(resp.Content)
}

// parseReport extracts the JSON object from raw model output. Markdown code
// fences and leading prose are tolerated.
func parseReport(raw string) (*Report, error) {
	body := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(body, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		body, _, _ = strings.Cut(rest, "```")
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in output", errMalformedReport)
	}

	var r Report
	if err := json.Unmarshal([]byte(body[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedReport, err)
	}
	r.Overall = strings.TrimSpace(r.Overall)
	if r.Overall == "" {
		return nil, fmt.Errorf("%w: missing overall assessment", errMalformedReport)
	}
	r.Score = min(max(r.Score, 1), 10)
	r.Strengths = compact(r.Strengths)
	r.Improvements = compact(r.Improvements)
	return &r, nil
}

func compact(items []string) []string {
	out := items[:0]
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// systemInstruction builds the interviewer persona for the live model.
func systemInstruction(role, topic string) string {
	return fmt.Sprintf(`You are a professional interviewer conducting a realistic spoken mock interview.
The candidate is applying for the role of %s. Focus your questions on %s.
Ask one question at a time and wait for the answer. Follow up on vague answers.
Keep your turns short and conversational. Do not give feedback during the interview.
Start by greeting the candidate and asking the first question.`, role, topic)
}
