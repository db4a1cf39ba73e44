package generator

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"schedbot/internal/executor"
)

func TestClassifyRetryable(t *testing.T) {
	t.Parallel()
	rate := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	if !executor.IsRetryable(classify(rate)) {
		t.Fatal("429 should be retryable")
	}
	srv := &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}
	if !executor.IsRetryable(classify(srv)) {
		t.Fatal("5xx should be retryable")
	}
	bad := &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
	if executor.IsRetryable(classify(bad)) {
		t.Fatal("400 must not be retryable")
	}
	auth := &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}
	if executor.IsRetryable(classify(auth)) {
		t.Fatal("401 must not be retryable")
	}
}

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()
	for _, m := range []string{"o1-mini", "o3", "o4-mini", "gpt-5"} {
		if !isReasoningModel(m) {
			t.Fatalf("%s should be a reasoning model", m)
		}
	}
	for _, m := range []string{"gpt-4o-mini", "gpt-4.1-mini"} {
		if isReasoningModel(m) {
			t.Fatalf("%s should not be a reasoning model", m)
		}
	}
}
