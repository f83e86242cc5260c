package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestParseReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantScore int
		wantErr   bool
	}{
		{
			name:      "plain object",
			raw:       `{"overall":"Solid answers.","score":7,"strengths":["clear"],"improvements":["depth"]}`,
			wantScore: 7,
		},
		{
			name:      "fenced with language tag",
			raw:       "```json\n{\"overall\":\"Good.\",\"score\":8}\n```",
			wantScore: 8,
		},
		{
			name:      "surrounding prose",
			raw:       "Here is the report:\n{\"overall\":\"Fine.\",\"score\":5}\nThanks!",
			wantScore: 5,
		},
		{
			name:      "score clamped high",
			raw:       `{"overall":"Great.","score":14}`,
			wantScore: 10,
		},
		{
			name:      "score clamped low",
			raw:       `{"overall":"Weak.","score":0}`,
			wantScore: 1,
		},
		{name: "missing overall", raw: `{"score":6}`, wantErr: true},
		{name: "no object", raw: "I cannot help with that.", wantErr: true},
		{name: "broken json", raw: `{"overall": "x", "score": }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := parseReport(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, errMalformedReport) {
					t.Fatalf("err = %v, want errMalformedReport", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", r.Score, tt.wantScore)
			}
		})
	}
}

func TestParseReport_CompactsLists(t *testing.T) {
	t.Parallel()
	r, err := parseReport(`{"overall":" ok ","score":6,"strengths":["a"," ",""],"improvements":[" b "]}`)
	if err != nil {
		t.Fatal(err)
	}
	if r.Overall != "ok" {
		t.Errorf("overall = %q", r.Overall)
	}
	if len(r.Strengths) != 1 || r.Strengths[0] != "a" {
		t.Errorf("strengths = %q", r.Strengths)
	}
	if len(r.Improvements) != 1 || r.Improvements[0] != "b" {
		t.Errorf("improvements = %q", r.Improvements)
	}
}

func TestLLMSummariser_EmptyTranscript(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	_, err := NewLLMSummariser(p).Summarise(context.Background(), SummaryRequest{Role: "r", Topic: "t"})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	if n := len(p.Calls()); n != 0 {
		t.Errorf("LLM called %d times for an empty transcript", n)
	}
}

func TestLLMSummariser_Request(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"overall":"Clear and structured.","score":8,"strengths":["structure"],"improvements":["examples"]}`},
	}

	r, err := NewLLMSummariser(p).Summarise(context.Background(), SummaryRequest{
		Role:  "Site Reliability Engineer",
		Topic: "incident response",
		Entries: []transcript.Entry{
			{Speaker: transcript.Remote, Text: "Tell me about an outage.", IsFinal: true},
			{Speaker: transcript.Caller, Text: "We lost a region once.", IsFinal: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Score != 8 || r.Overall != "Clear and structured." {
		t.Errorf("report = %+v", r)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(calls))
	}
	req := calls[0].Req
	if !req.JSON {
		t.Error("request should ask for JSON output")
	}
	if req.SystemPrompt != summarisationPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	body := req.Messages[0].Content
	for _, want := range []string{"Role: Site Reliability Engineer", "Topic: incident response", "[Remote]: Tell me about an outage.", "[Caller]: We lost a region once."} {
		if !strings.Contains(body, want) {
			t.Errorf("prompt missing %q:\n%s", want, body)
		}
	}
}

func TestLLMSummariser_Errors(t *testing.T) {
	t.Parallel()
	entries := []transcript.Entry{{Speaker: transcript.Caller, Text: "hi", IsFinal: true}}

	t.Run("provider error is wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("rate limited")
		_, err := NewLLMSummariser(&llmmock.Provider{CompleteErr: boom}).Summarise(context.Background(), SummaryRequest{Entries: entries})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapped %v", err, boom)
		}
	})

	t.Run("malformed output", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "no json here"}}
		_, err := NewLLMSummariser(p).Summarise(context.Background(), SummaryRequest{Entries: entries})
		if !errors.Is(err, errMalformedReport) {
			t.Fatalf("err = %v, want errMalformedReport", err)
		}
	})
}

func TestSystemInstruction(t *testing.T) {
	t.Parallel()
	got := systemInstruction("Data Engineer", "streaming pipelines")
	if !strings.Contains(got, "Data Engineer") || !strings.Contains(got, "streaming pipelines") {
		t.Errorf("instruction does not mention role and topic:\n%s", got)
	}
}
