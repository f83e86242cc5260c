package vocab_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/transcript/vocab"
)

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		vocabulary []string
		input      string
		want       string
		wantFixes  int
	}{
		{
			name:       "misheard single word",
			vocabulary: []string{"Kubernetes"},
			input:      "I deployed it on cubernetes last year",
			want:       "I deployed it on Kubernetes last year",
			wantFixes:  1,
		},
		{
			name:       "trailing punctuation kept",
			vocabulary: []string{"Postgres"},
			input:      "We ran postgress.",
			want:       "We ran Postgres.",
			wantFixes:  1,
		},
		{
			name:       "multi-word term",
			vocabulary: []string{"Apache Kafka", "Kubernetes"},
			input:      "events went through apache cafka first",
			want:       "events went through Apache Kafka first",
			wantFixes:  1,
		},
		{
			name:       "exact match left as spoken",
			vocabulary: []string{"Kubernetes"},
			input:      "kubernetes is fine",
			want:       "kubernetes is fine",
		},
		{
			name:       "unrelated text untouched",
			vocabulary: []string{"Kubernetes"},
			input:      "hello there, how are you?",
			want:       "hello there, how are you?",
		},
		{
			name:  "empty vocabulary",
			input: "anything at all",
			want:  "anything at all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := vocab.New(tt.vocabulary)
			got, fixes := c.Correct(tt.input)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if len(fixes) != tt.wantFixes {
				t.Errorf("corrections = %+v, want %d", fixes, tt.wantFixes)
			}
		})
	}
}

func TestCorrector_ThresholdsReject(t *testing.T) {
	t.Parallel()

	c := vocab.New([]string{"Kubernetes"},
		vocab.WithPhoneticThreshold(0.99),
		vocab.WithFuzzyThreshold(0.99),
	)
	if _, fixes := c.Correct("cubernetes"); len(fixes) != 0 {
		t.Errorf("strict thresholds should reject, got %+v", fixes)
	}
}

func TestNew_DropsBlankTerms(t *testing.T) {
	t.Parallel()
	if n := vocab.New([]string{"", "  ", "Go"}).Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}
