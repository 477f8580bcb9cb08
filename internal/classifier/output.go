package classifier

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Output is what a runtime produced for one inference: named numeric
// tensors, a class->score dictionary, or both.
type Output struct {
	Tensors map[string][]float64
	Classes map[string]float64
}

// OutputKind is the interpretation applied to a model's raw output.
type OutputKind int

const (
	KindAuto OutputKind = iota
	KindScalarLogit
	KindScalarProbability
	KindVectorLogits
	KindVectorProbabilities
	KindClassDictionary
)

var kindNames = map[OutputKind]string{
	KindAuto:                "auto",
	KindScalarLogit:         "scalar-logit",
	KindScalarProbability:   "scalar-probability",
	KindVectorLogits:        "vector-logits",
	KindVectorProbabilities: "vector-probabilities",
	KindClassDictionary:     "class-dictionary",
}

func (k OutputKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OutputKind(%d)", int(k))
}

// ParseOutputKind maps a metadata string onto an OutputKind. Empty means auto.
func ParseOutputKind(s string) (OutputKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindAuto, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindAuto, fmt.Errorf("unknown output kind %q", s)
}

// Interpreter turns an Output into the probability of nail-biting.
type Interpreter struct {
	Kind OutputKind

	// OutputName is tried first when the output holds several tensors.
	OutputName string

	// Labels and PositiveLabel select the positive index of a vector output
	// and the key of a dictionary output.
	Labels        Labels
	PositiveLabel string

	// OutputsAreProbabilities decides between the logit and probability
	// kinds when Kind is resolved from the output shape.
	OutputsAreProbabilities bool

	// Invert yields 1-p, for models whose positive class means "not biting".
	Invert bool
}

// Resolve infers the kind from the shape of out.
func (in Interpreter) Resolve(out Output) OutputKind {
	if _, vals, ok := in.selectTensor(out); ok {
		switch {
		case len(vals) == 1 && in.OutputsAreProbabilities:
			return KindScalarProbability
		case len(vals) == 1:
			return KindScalarLogit
		case in.OutputsAreProbabilities:
			return KindVectorProbabilities
		default:
			return KindVectorLogits
		}
	}
	if len(out.Classes) > 0 {
		return KindClassDictionary
	}
	return KindAuto
}

// Matches reports whether out has the shape kind k expects.
func (in Interpreter) Matches(k OutputKind, out Output) bool {
	_, vals, ok := in.selectTensor(out)
	switch k {
	case KindScalarLogit, KindScalarProbability:
		return ok && len(vals) == 1
	case KindVectorLogits, KindVectorProbabilities:
		return ok && len(vals) > 1
	case KindClassDictionary:
		return len(out.Classes) > 0
	default:
		return false
	}
}

// Probability applies kind k to out. It fails with ErrNoPrediction when the
// output does not have the shape k requires.
func (in Interpreter) Probability(k OutputKind, out Output) (float64, error) {
	if !in.Matches(k, out) {
		return 0, fmt.Errorf("%w: output does not match %s", ErrNoPrediction, k)
	}

	var p float64
	switch k {
	case KindScalarLogit:
		_, vals, _ := in.selectTensor(out)
		p = sigmoid(vals[0])
	case KindScalarProbability:
		_, vals, _ := in.selectTensor(out)
		p = clamp01(vals[0])
	case KindVectorLogits:
		_, vals, _ := in.selectTensor(out)
		p = pick(softmax(vals), in.positiveIndex())
	case KindVectorProbabilities:
		_, vals, _ := in.selectTensor(out)
		p = pick(vals, in.positiveIndex())
	case KindClassDictionary:
		v, ok := in.lookupClass(out.Classes)
		if !ok {
			return 0, fmt.Errorf("%w: no positive class key in dictionary output", ErrNoPrediction)
		}
		p = v
	}

	if in.Invert {
		p = 1 - p
	}
	return clamp01(p), nil
}

// selectTensor returns the preferred non-empty tensor: OutputName first,
// then the remaining outputs in name order.
func (in Interpreter) selectTensor(out Output) (string, []float64, bool) {
	if in.OutputName != "" {
		if vals := out.Tensors[in.OutputName]; len(vals) > 0 {
			return in.OutputName, vals, true
		}
	}

	names := make([]string, 0, len(out.Tensors))
	for name := range out.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if vals := out.Tensors[name]; len(vals) > 0 {
			return name, vals, true
		}
	}
	return "", nil, false
}

// positiveIndex is the label position of the positive class, defaulting to 1.
func (in Interpreter) positiveIndex() int {
	label := in.PositiveLabel
	if label == "" {
		label = DefaultPositiveLabel
	}
	if idx := in.Labels.Index(label); idx >= 0 {
		return idx
	}
	return 1
}

func (in Interpreter) lookupClass(classes map[string]float64) (float64, bool) {
	label := in.PositiveLabel
	if label == "" {
		label = DefaultPositiveLabel
	}
	for _, key := range []string{label, "1", "true"} {
		if v, ok := classes[key]; ok {
			return v, true
		}
	}
	for key, v := range classes {
		if normalizeLabel(key) == normalizeLabel(label) {
			return v, true
		}
	}
	return 0, false
}

func pick(vals []float64, idx int) float64 {
	if idx < 0 {
		idx = 0
	}
	if idx > len(vals)-1 {
		idx = len(vals) - 1
	}
	return vals[idx]
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(vals []float64) []float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		if v > m {
			m = v
		}
	}

	out := make([]float64, len(vals))
	var sum float64
	for i, v := range vals {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
