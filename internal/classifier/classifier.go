// Package classifier wraps a pre-trained nail-biting image classifier whose
// input slot name and output layout are not known in advance.
package classifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/preprocess"
)

// DefaultPositiveLabel is the class label that means nail-biting is present.
const DefaultPositiveLabel = "biting"

// DefaultOutputName is the output tensor exported by the packaged models.
const DefaultOutputName = "var_937"

// DefaultInputNames are the input slot names tried, in order.
var DefaultInputNames = []string{"input", "image"}

var (
	// ErrUnknownInput is returned by a Runtime when it has no input slot of
	// the requested name. The classifier then tries the next name.
	ErrUnknownInput = errors.New("unknown input slot")

	// ErrNoPrediction means the model produced nothing usable for a frame.
	// Callers treat it as "no detection this frame".
	ErrNoPrediction = errors.New("no prediction")

	// ErrModelNotFound is returned by Load when no model file exists.
	ErrModelNotFound = errors.New("model file not found")
)

// Classifier returns the probability that a tensor shows nail-biting.
type Classifier interface {
	Predict(t *preprocess.Tensor) (float64, error)
	Close() error
}

// Runtime executes a loaded model for a single named input.
type Runtime interface {
	Run(input string, t *preprocess.Tensor) (Output, error)
	Close() error
}

// Settings controls input negotiation and output interpretation.
type Settings struct {
	InputNames              []string
	OutputName              string
	Kind                    OutputKind
	Labels                  Labels
	PositiveLabel           string
	PositiveIsBiting        bool
	OutputsAreProbabilities bool
}

// Model adapts a Runtime to the Classifier interface.
type Model struct {
	runtime  Runtime
	inputs   []string
	interp   Interpreter
	declared bool
	log      logrus.FieldLogger

	mu        sync.Mutex
	kind      OutputKind
	lastInput string
}

// NewModel wraps rt. When s.Kind is KindAuto the kind is resolved from the
// first usable output and cached.
func NewModel(rt Runtime, s Settings, log logrus.FieldLogger) *Model {
	inputs := s.InputNames
	if len(inputs) == 0 {
		inputs = DefaultInputNames
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Model{
		runtime: rt,
		inputs:  append([]string(nil), inputs...),
		interp: Interpreter{
			Kind:                    s.Kind,
			OutputName:              s.OutputName,
			Labels:                  s.Labels,
			PositiveLabel:           s.PositiveLabel,
			OutputsAreProbabilities: s.OutputsAreProbabilities,
			Invert:                  !s.PositiveIsBiting,
		},
		declared: s.Kind != KindAuto,
		kind:     s.Kind,
		log:      log.WithField("component", "classifier"),
	}
}

// Kind returns the output kind currently in use (KindAuto before the first
// successful prediction of an undeclared model).
func (m *Model) Kind() OutputKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Predict runs the model on t and interprets the result.
func (m *Model) Predict(t *preprocess.Tensor) (float64, error) {
	if t == nil {
		return 0, fmt.Errorf("%w: nil tensor", ErrNoPrediction)
	}

	out, err := m.run(t)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kind := m.kind
	if !m.declared && (kind == KindAuto || !m.interp.Matches(kind, out)) {
		resolved := m.interp.Resolve(out)
		if resolved == KindAuto {
			return 0, fmt.Errorf("%w: unrecognized output shape", ErrNoPrediction)
		}
		if resolved != kind {
			m.log.WithFields(logrus.Fields{"from": kind, "to": resolved}).Debug("resolved output kind")
		}
		m.kind = resolved
		kind = resolved
	}

	return m.interp.Probability(kind, out)
}

// run feeds t under each input name until the runtime accepts one. The name
// that last worked is tried first.
func (m *Model) run(t *preprocess.Tensor) (Output, error) {
	m.mu.Lock()
	order := make([]string, 0, len(m.inputs))
	if m.lastInput != "" {
		order = append(order, m.lastInput)
	}
	for _, name := range m.inputs {
		if name != m.lastInput {
			order = append(order, name)
		}
	}
	m.mu.Unlock()

	var lastErr error
	for _, name := range order {
		out, err := m.runtime.Run(name, t)
		if err != nil {
			lastErr = err
			continue
		}

		m.mu.Lock()
		m.lastInput = name
		m.mu.Unlock()
		return out, nil
	}

	if lastErr == nil {
		lastErr = ErrUnknownInput
	}
	return Output{}, fmt.Errorf("%w: %v", ErrNoPrediction, lastErr)
}

// Close releases the runtime.
func (m *Model) Close() error {
	return m.runtime.Close()
}
