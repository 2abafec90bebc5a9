// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/duynguyendang/lexa/pkg/llm"
)

// Reply is the canned outcome of one prompt.
type Reply struct {
	Text string
	Err  error
}

// Scripted answers each request by its Name. Unknown names fail.
type Scripted struct {
	mu      sync.Mutex
	replies map[string]Reply
	calls   []llm.Request
	gate    chan struct{}
}

func NewScripted(replies map[string]Reply) *Scripted {
	if replies == nil {
		replies = map[string]Reply{}
	}
	return &Scripted{replies: replies}
}

// Set replaces the reply for name.
func (s *Scripted) Set(name string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[name] = r
}

// Hold makes every call block until Release is called or its context ends.
func (s *Scripted) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

func (s *Scripted) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Scripted) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	reply, ok := s.replies[req.Name]
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", fmt.Errorf("no scripted reply for %q", req.Name)
	}
	return reply.Text, reply.Err
}

// Calls returns the names of the requests received so far, in order.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.calls))
	for i, c := range s.calls {
		names[i] = c.Name
	}
	return names
}

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.calls...)
}
