package classifier

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Options locates and configures a packaged model.
type Options struct {
	Dir                     string
	Variant                 Variant
	PositiveIsBiting        bool
	OutputsAreProbabilities bool
	PositiveLabel           string
	InputNames              []string
	ServiceScript           string
}

// Load opens the model for opts.Variant from opts.Dir.
//
// <pkg>.onnx runs in-process through OpenCV. Otherwise a CoreML package
// (<pkg>.mlpackage or <pkg>.mlmodelc) runs through the model service. An
// optional <pkg>.yaml sidecar overrides labels, input names and output
// interpretation.
func Load(opts Options, log logrus.FieldLogger) (*Model, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	variant := opts.Variant
	if variant == "" {
		variant = Variant512
	}
	base := filepath.Join(opts.Dir, variant.PackageName())

	md, err := LoadMetadata(base + ".yaml")
	if err != nil {
		return nil, err
	}

	settings, err := opts.settings(md)
	if err != nil {
		return nil, err
	}

	rt, path, err := openRuntime(base, opts.ServiceScript, settings, md.OutputName)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"component": "classifier",
		"variant":   variant,
		"path":      path,
		"kind":      settings.Kind,
	}).Info("model loaded")

	return NewModel(rt, settings, log), nil
}

func (o Options) settings(md Metadata) (Settings, error) {
	s := Settings{
		InputNames:              o.InputNames,
		OutputName:              DefaultOutputName,
		Labels:                  md.Classes,
		PositiveLabel:           o.PositiveLabel,
		PositiveIsBiting:        o.PositiveIsBiting,
		OutputsAreProbabilities: o.OutputsAreProbabilities,
	}

	if len(md.InputNames) > 0 {
		s.InputNames = md.InputNames
	}
	if len(s.InputNames) == 0 {
		s.InputNames = DefaultInputNames
	}
	if md.OutputName != "" {
		s.OutputName = md.OutputName
	}
	if md.PositiveLabel != "" {
		s.PositiveLabel = md.PositiveLabel
	}
	if s.PositiveLabel == "" {
		s.PositiveLabel = DefaultPositiveLabel
	}
	if md.PositiveIsBiting != nil {
		s.PositiveIsBiting = *md.PositiveIsBiting
	}
	if md.OutputsAreProbabilities != nil {
		s.OutputsAreProbabilities = *md.OutputsAreProbabilities
	}

	kind, err := ParseOutputKind(md.OutputKind)
	if err != nil {
		return Settings{}, fmt.Errorf("model metadata: %w", err)
	}
	s.Kind = kind

	return s, nil
}

// openRuntime picks the runtime for the files found at base. The DNN runtime
// only reads a named layer when the sidecar names one, since OpenCV's own
// layer names differ from the exporter's.
func openRuntime(base, script string, s Settings, layer string) (Runtime, string, error) {
	onnx := base + ".onnx"
	if exists(onnx) {
		rt, err := NewDNNRuntime(onnx, s.InputNames, layer)
		if err != nil {
			return nil, "", err
		}
		return rt, onnx, nil
	}

	for _, ext := range []string{".mlpackage", ".mlmodelc"} {
		path := base + ext
		if !exists(path) {
			continue
		}
		rt, err := NewServiceRuntime(script, path)
		if err != nil {
			return nil, "", fmt.Errorf("model %s: %w", path, err)
		}
		return rt, path, nil
	}

	return nil, "", fmt.Errorf("%w: %s.{onnx,mlpackage,mlmodelc}", ErrModelNotFound, base)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
