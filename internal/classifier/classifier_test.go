package classifier

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ayusman/nailwatch/internal/logging"
	"github.com/ayusman/nailwatch/internal/preprocess"
)

func newTestModel(rt Runtime, s Settings) *Model {
	return NewModel(rt, s, logging.Discard())
}

func TestModel_InputFallback(t *testing.T) {
	rt := NewMockRuntime("image")
	rt.SetOutput(Scalar("var_937", 0))

	m := newTestModel(rt, Settings{PositiveIsBiting: true})
	tensor := preprocess.NewTensor(4)

	p, err := m.Predict(tensor)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(p-0.5) > epsilon {
		t.Errorf("Predict() = %f, want 0.5", p)
	}

	if want := []string{"input", "image"}; !reflect.DeepEqual(rt.Calls(), want) {
		t.Errorf("calls = %v, want %v", rt.Calls(), want)
	}

	// The accepted name is tried first from now on.
	if _, err := m.Predict(tensor); err != nil {
		t.Fatalf("second Predict() error = %v", err)
	}
	if want := []string{"input", "image", "image"}; !reflect.DeepEqual(rt.Calls(), want) {
		t.Errorf("calls = %v, want %v", rt.Calls(), want)
	}
}

func TestModel_NoAcceptedInput(t *testing.T) {
	rt := NewMockRuntime("pixels")
	m := newTestModel(rt, Settings{})

	_, err := m.Predict(preprocess.NewTensor(4))
	if !errors.Is(err, ErrNoPrediction) {
		t.Errorf("expected ErrNoPrediction, got %v", err)
	}
}

func TestModel_RuntimeError(t *testing.T) {
	rt := NewMockRuntime()
	rt.SetError(errors.New("boom"))
	m := newTestModel(rt, Settings{})

	_, err := m.Predict(preprocess.NewTensor(4))
	if !errors.Is(err, ErrNoPrediction) {
		t.Errorf("expected ErrNoPrediction, got %v", err)
	}
}

func TestModel_NilTensor(t *testing.T) {
	m := newTestModel(NewMockRuntime(), Settings{})

	if _, err := m.Predict(nil); !errors.Is(err, ErrNoPrediction) {
		t.Errorf("expected ErrNoPrediction, got %v", err)
	}
}

func TestModel_Inversion(t *testing.T) {
	rt := NewMockRuntime()
	rt.SetOutput(Vector("var_937", 0.2, 0.8))

	m := newTestModel(rt, Settings{
		Kind:             KindVectorProbabilities,
		PositiveIsBiting: false,
	})

	p, err := m.Predict(preprocess.NewTensor(4))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(p-0.2) > epsilon {
		t.Errorf("Predict() = %f, want 0.2", p)
	}
}

func TestModel_KindResolution(t *testing.T) {
	rt := NewMockRuntime()
	rt.QueueOutputs(
		Scalar("var_937", 0),
		Vector("var_937", 0, 0),
		Vector("var_937", 0, 0),
	)

	m := newTestModel(rt, Settings{PositiveIsBiting: true})
	if m.Kind() != KindAuto {
		t.Fatalf("initial kind = %s, want auto", m.Kind())
	}

	tensor := preprocess.NewTensor(4)

	if _, err := m.Predict(tensor); err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if m.Kind() != KindScalarLogit {
		t.Errorf("kind after scalar = %s, want scalar-logit", m.Kind())
	}

	p, err := m.Predict(tensor)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if m.Kind() != KindVectorLogits {
		t.Errorf("kind after vector = %s, want vector-logits", m.Kind())
	}
	if math.Abs(p-0.5) > epsilon {
		t.Errorf("Predict() = %f, want 0.5", p)
	}
}

func TestModel_DeclaredKindMismatch(t *testing.T) {
	rt := NewMockRuntime()
	rt.SetOutput(Vector("var_937", 0.1, 0.9))

	m := newTestModel(rt, Settings{Kind: KindScalarProbability})

	if _, err := m.Predict(preprocess.NewTensor(4)); !errors.Is(err, ErrNoPrediction) {
		t.Errorf("expected ErrNoPrediction, got %v", err)
	}
	if m.Kind() != KindScalarProbability {
		t.Errorf("declared kind changed to %s", m.Kind())
	}
}

func TestModel_Close(t *testing.T) {
	rt := NewMockRuntime()
	m := newTestModel(rt, Settings{})

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !rt.Closed() {
		t.Error("expected runtime to be closed")
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		size    int
		wantErr bool
	}{
		{"224", Variant224, 224, false},
		{"384px", Variant384, 384, false},
		{" 512 ", Variant512, 512, false},
		{"1024", "", 0, true},
		{"", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVariant(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVariant(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseVariant(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if got.ImageSize() != tt.size {
				t.Errorf("ImageSize() = %d, want %d", got.ImageSize(), tt.size)
			}
		})
	}

	if got := Variant384.PackageName(); got != "NailBiteClassifier_384" {
		t.Errorf("PackageName() = %q", got)
	}
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()

	t.Run("list classes", func(t *testing.T) {
		path := filepath.Join(dir, "list.yaml")
		writeFile(t, path, `
classes: [not_biting, Biting]
input_names: [image]
output_name: logits
output_kind: vector-logits
positive_is_biting: true
`)
		md, err := LoadMetadata(path)
		if err != nil {
			t.Fatalf("LoadMetadata() error = %v", err)
		}
		if want := (Labels{"not_biting", "biting"}); !reflect.DeepEqual(md.Classes, want) {
			t.Errorf("classes = %v, want %v", md.Classes, want)
		}
		if md.Classes.Index("BITING") != 1 {
			t.Errorf("Index(BITING) = %d, want 1", md.Classes.Index("BITING"))
		}
		if md.OutputName != "logits" || md.OutputKind != "vector-logits" {
			t.Errorf("unexpected output fields: %+v", md)
		}
		if md.PositiveIsBiting == nil || !*md.PositiveIsBiting {
			t.Error("expected positive_is_biting true")
		}
		if md.OutputsAreProbabilities != nil {
			t.Error("expected outputs_are_probabilities unset")
		}
	})

	t.Run("csv classes", func(t *testing.T) {
		path := filepath.Join(dir, "csv.yaml")
		writeFile(t, path, `classes: "biting, not_biting"`)

		md, err := LoadMetadata(path)
		if err != nil {
			t.Fatalf("LoadMetadata() error = %v", err)
		}
		if want := (Labels{"biting", "not_biting"}); !reflect.DeepEqual(md.Classes, want) {
			t.Errorf("classes = %v, want %v", md.Classes, want)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		md, err := LoadMetadata(filepath.Join(dir, "nope.yaml"))
		if err != nil {
			t.Fatalf("LoadMetadata() error = %v", err)
		}
		if len(md.Classes) != 0 {
			t.Errorf("expected empty metadata, got %+v", md)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		writeFile(t, path, "classes: {a: 1}")

		if _, err := LoadMetadata(path); err == nil {
			t.Error("expected error for mapping classes")
		}
	})
}

func TestOptions_Settings(t *testing.T) {
	yes := true
	opts := Options{
		PositiveIsBiting: false,
		InputNames:       []string{"input"},
	}

	s, err := opts.settings(Metadata{
		InputNames:       []string{"pixel_values"},
		OutputKind:       "class-dictionary",
		PositiveIsBiting: &yes,
	})
	if err != nil {
		t.Fatalf("settings() error = %v", err)
	}

	if !reflect.DeepEqual(s.InputNames, []string{"pixel_values"}) {
		t.Errorf("InputNames = %v", s.InputNames)
	}
	if s.OutputName != DefaultOutputName {
		t.Errorf("OutputName = %q, want %q", s.OutputName, DefaultOutputName)
	}
	if s.Kind != KindClassDictionary {
		t.Errorf("Kind = %s", s.Kind)
	}
	if !s.PositiveIsBiting {
		t.Error("expected metadata to override PositiveIsBiting")
	}
	if s.PositiveLabel != DefaultPositiveLabel {
		t.Errorf("PositiveLabel = %q", s.PositiveLabel)
	}

	if _, err := opts.settings(Metadata{OutputKind: "heatmap"}); err == nil {
		t.Error("expected error for unknown output kind")
	}
}

func TestLoad_ModelNotFound(t *testing.T) {
	_, err := Load(Options{Dir: t.TempDir(), Variant: Variant224}, logging.Discard())
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
