package llm

import (
	"context"
	"sync"
)

// fakeCompleter returns scripted completions and records requests.
type fakeCompleter struct {
	mu       sync.Mutex
	requests []CompletionRequest
	replies  []string
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	text := ""
	if len(f.replies) > 0 {
		text = f.replies[0]
		f.replies = f.replies[1:]
	}
	return &Completion{Text: text, Model: "fake-model"}, nil
}

func (f *fakeCompleter) Provider() string { return "fake" }
func (f *fakeCompleter) Model() string    { return "fake-model" }

func mustPrompts(t interface{ Fatalf(string, ...any) }) *Prompts {
	p, err := DefaultPrompts()
	if err != nil {
		t.Fatalf("default prompts: %v", err)
	}
	return p
}
