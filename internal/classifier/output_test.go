package classifier

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-9

func TestInterpreter_Probability(t *testing.T) {
	tests := []struct {
		name   string
		interp Interpreter
		kind   OutputKind
		out    Output
		want   float64
	}{
		{
			name: "scalar logit zero is one half",
			kind: KindScalarLogit,
			out:  Scalar("var_937", 0),
			want: 0.5,
		},
		{
			name: "scalar logit positive",
			kind: KindScalarLogit,
			out:  Scalar("var_937", 2),
			want: 1 / (1 + math.Exp(-2)),
		},
		{
			name: "scalar probability clamped",
			kind: KindScalarProbability,
			out:  Scalar("p", 1.7),
			want: 1,
		},
		{
			name: "vector logits softmax default index 1",
			kind: KindVectorLogits,
			out:  Vector("logits", 0, math.Log(3)),
			want: 0.75,
		},
		{
			name:   "vector probabilities label index",
			interp: Interpreter{Labels: Labels{"biting", "not_biting"}},
			kind:   KindVectorProbabilities,
			out:    Vector("probs", 0.8, 0.2),
			want:   0.8,
		},
		{
			name:   "vector probabilities unknown label falls back to 1",
			interp: Interpreter{Labels: Labels{"a", "b"}},
			kind:   KindVectorProbabilities,
			out:    Vector("probs", 0.3, 0.7),
			want:   0.7,
		},
		{
			name:   "inverted vector",
			interp: Interpreter{Invert: true},
			kind:   KindVectorProbabilities,
			out:    Vector("probs", 0.1, 0.9),
			want:   0.1,
		},
		{
			name: "dictionary by positive label",
			kind: KindClassDictionary,
			out:  Dictionary(map[string]float64{"biting": 0.6, "other": 0.4}),
			want: 0.6,
		},
		{
			name: "dictionary by numeric key",
			kind: KindClassDictionary,
			out:  Dictionary(map[string]float64{"0": 0.2, "1": 0.8}),
			want: 0.8,
		},
		{
			name: "dictionary by true key",
			kind: KindClassDictionary,
			out:  Dictionary(map[string]float64{"false": 0.35, "true": 0.65}),
			want: 0.65,
		},
		{
			name: "dictionary case insensitive",
			kind: KindClassDictionary,
			out:  Dictionary(map[string]float64{" Biting ": 0.9}),
			want: 0.9,
		},
		{
			name:   "preferred output name wins",
			interp: Interpreter{OutputName: "var_937"},
			kind:   KindScalarProbability,
			out:    Output{Tensors: map[string][]float64{"aaa": {0.1}, "var_937": {0.9}}},
			want:   0.9,
		},
		{
			name: "NaN clamps to zero",
			kind: KindScalarProbability,
			out:  Scalar("p", math.NaN()),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.interp.Probability(tt.kind, tt.out)
			if err != nil {
				t.Fatalf("Probability() error = %v", err)
			}
			if math.Abs(got-tt.want) > epsilon {
				t.Errorf("Probability() = %f, want %f", got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Probability() = %f, outside [0,1]", got)
			}
		})
	}
}

func TestInterpreter_ProbabilityMismatch(t *testing.T) {
	var in Interpreter

	tests := []struct {
		name string
		kind OutputKind
		out  Output
	}{
		{"scalar kind on vector", KindScalarLogit, Vector("v", 1, 2)},
		{"vector kind on scalar", KindVectorLogits, Scalar("s", 1)},
		{"dictionary kind on tensor", KindClassDictionary, Scalar("s", 1)},
		{"dictionary without positive key", KindClassDictionary, Dictionary(map[string]float64{"cat": 1})},
		{"empty output", KindScalarProbability, Output{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Probability(tt.kind, tt.out)
			if !errors.Is(err, ErrNoPrediction) {
				t.Errorf("expected ErrNoPrediction, got %v", err)
			}
		})
	}
}

func TestInterpreter_Resolve(t *testing.T) {
	tests := []struct {
		name   string
		interp Interpreter
		out    Output
		want   OutputKind
	}{
		{"scalar logit", Interpreter{}, Scalar("x", 1), KindScalarLogit},
		{"scalar probability", Interpreter{OutputsAreProbabilities: true}, Scalar("x", 0.5), KindScalarProbability},
		{"vector logits", Interpreter{}, Vector("x", 1, 2), KindVectorLogits},
		{"vector probabilities", Interpreter{OutputsAreProbabilities: true}, Vector("x", 0.5, 0.5), KindVectorProbabilities},
		{"dictionary", Interpreter{}, Dictionary(map[string]float64{"biting": 1}), KindClassDictionary},
		{"empty", Interpreter{}, Output{Tensors: map[string][]float64{"x": {}}}, KindAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.interp.Resolve(tt.out); got != tt.want {
				t.Errorf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseOutputKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseOutputKind(name)
		if err != nil {
			t.Fatalf("ParseOutputKind(%q) error = %v", name, err)
		}
		if got != k {
			t.Errorf("ParseOutputKind(%q) = %s, want %s", name, got, k)
		}
	}

	if got, err := ParseOutputKind(""); err != nil || got != KindAuto {
		t.Errorf("ParseOutputKind(\"\") = %s, %v; want auto", got, err)
	}
	if _, err := ParseOutputKind("histogram"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
