package firewall

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a mock implementation of CommandRunner for testing.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(_ context.Context, name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return m.Called(callArgs...).Error(0)
}

// MockExecutor is a mock Executor. Arguments are recorded as a single
// []string so one expectation can match any rule.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, ignoreFailure bool, args ...string) error {
	return m.Called(ctx, ignoreFailure, args).Error(0)
}

// Invocations returns the recorded calls in order.
func (m *MockExecutor) Invocations() []Invocation {
	var out []Invocation
	for _, c := range m.Calls {
		if c.Method != "Execute" {
			continue
		}
		out = append(out, Invocation{
			IgnoreFailure: c.Arguments.Bool(1),
			Args:          c.Arguments.Get(2).([]string),
		})
	}
	return out
}

// Invocation is one recorded Execute call.
type Invocation struct {
	IgnoreFailure bool
	Args          []string
}
