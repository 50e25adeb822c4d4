package testsupport

import (
	"context"
	"slices"
	"sync"
)

// Call records one invocation of a StubExecutor.
type Call struct {
	Binary string
	Args   []string
}

// StubExecutor replays worker behaviour for tests. Handler runs for every call
// and may write files, emit output lines, or fail; a nil Handler succeeds
// silently.
type StubExecutor struct {
	Handler func(ctx context.Context, binary string, args []string, onLine func(string)) error

	mu    sync.Mutex
	calls []Call
}

func (s *StubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Binary: binary, Args: slices.Clone(args)})
	s.mu.Unlock()
	if s.Handler == nil {
		return nil
	}
	if onLine == nil {
		onLine = func(string) {}
	}
	return s.Handler(ctx, binary, args, onLine)
}

// Calls returns a copy of the recorded invocations.
func (s *StubExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallsWith returns the invocations whose first argument is verb, such as
// "run" or "ps".
func (s *StubExecutor) CallsWith(verb string) []Call {
	var out []Call
	for _, call := range s.Calls() {
		if len(call.Args) > 0 && call.Args[0] == verb {
			out = append(out, call)
		}
	}
	return out
}

// ArgValue returns the value following flag in args.
func ArgValue(args []string, flag string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}
