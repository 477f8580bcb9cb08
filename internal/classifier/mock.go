package classifier

import (
	"fmt"
	"sync"

	"github.com/ayusman/nailwatch/internal/preprocess"
)

// MockRuntime is a test implementation of the Runtime interface.
// It allows tests to control which inputs exist and what they return.
type MockRuntime struct {
	mu      sync.Mutex
	inputs  map[string]bool
	outputs []Output
	err     error
	calls   []string
	closed  bool
}

// NewMockRuntime creates a MockRuntime that accepts the given input names.
// With no names every input is accepted.
func NewMockRuntime(inputs ...string) *MockRuntime {
	m := &MockRuntime{}
	if len(inputs) > 0 {
		m.inputs = make(map[string]bool, len(inputs))
		for _, name := range inputs {
			m.inputs[name] = true
		}
	}
	return m
}

// SetOutput makes every subsequent Run return out.
func (m *MockRuntime) SetOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = []Output{out}
}

// QueueOutputs makes successive Runs return outs in order; the last one
// repeats once the queue is exhausted.
func (m *MockRuntime) QueueOutputs(outs ...Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append([]Output(nil), outs...)
}

// SetError sets the error returned by Run for accepted inputs.
func (m *MockRuntime) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the input names Run was called with, in order.
func (m *MockRuntime) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Closed reports whether Close was called.
func (m *MockRuntime) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Run returns the pre-configured output or error.
func (m *MockRuntime) Run(input string, t *preprocess.Tensor) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)

	if m.inputs != nil && !m.inputs[input] {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownInput, input)
	}
	if m.err != nil {
		return Output{}, m.err
	}
	if len(m.outputs) == 0 {
		return Output{}, nil
	}

	out := m.outputs[0]
	if len(m.outputs) > 1 {
		m.outputs = m.outputs[1:]
	}
	return out, nil
}

// Close marks the runtime closed.
func (m *MockRuntime) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Scalar builds a single-value tensor output under name.
func Scalar(name string, v float64) Output {
	return Output{Tensors: map[string][]float64{name: {v}}}
}

// Vector builds a multi-value tensor output under name.
func Vector(name string, vals ...float64) Output {
	return Output{Tensors: map[string][]float64{name: vals}}
}

// Dictionary builds a class->score output.
func Dictionary(classes map[string]float64) Output {
	return Output{Classes: classes}
}
