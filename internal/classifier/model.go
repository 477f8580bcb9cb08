package classifier

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variant names one of the packaged model resolutions.
type Variant string

const (
	Variant224 Variant = "224"
	Variant384 Variant = "384"
	Variant512 Variant = "512"
)

// Variants lists the supported model variants, smallest first.
func Variants() []Variant {
	return []Variant{Variant224, Variant384, Variant512}
}

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px")))
	for _, known := range Variants() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown model variant %q", s)
}

// ImageSize returns the square input edge the variant expects.
func (v Variant) ImageSize() int {
	switch v {
	case Variant224:
		return 224
	case Variant384:
		return 384
	default:
		return 512
	}
}

// PackageName returns the base file name of the model for this variant.
func (v Variant) PackageName() string {
	return "NailBiteClassifier_" + string(v)
}

// DisplayName is the label shown in menus.
func (v Variant) DisplayName() string {
	return string(v) + " px"
}

// Labels is a class label list. In YAML it may be a sequence or a
// comma-separated string.
type Labels []string

// UnmarshalYAML accepts both `[a, b]` and `"a,b"`.
func (l *Labels) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var csv string
		if err := node.Decode(&csv); err != nil {
			return err
		}
		*l = splitLabels(csv)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(Labels, 0, len(list))
		for _, s := range list {
			out = append(out, normalizeLabel(s))
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("classes: expected string or list, got yaml kind %v", node.Kind)
	}
}

// Index returns the position of label, or -1.
func (l Labels) Index(label string) int {
	want := normalizeLabel(label)
	for i, s := range l {
		if s == want {
			return i
		}
	}
	return -1
}

func splitLabels(csv string) Labels {
	var out Labels
	for _, part := range strings.Split(csv, ",") {
		out = append(out, normalizeLabel(part))
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Metadata is the optional YAML sidecar shipped next to a model file.
// Unset pointer fields leave the configured value in place.
type Metadata struct {
	Classes                 Labels   `yaml:"classes"`
	InputNames              []string `yaml:"input_names"`
	OutputName              string   `yaml:"output_name"`
	OutputKind              string   `yaml:"output_kind"`
	PositiveLabel           string   `yaml:"positive_label"`
	PositiveIsBiting        *bool    `yaml:"positive_is_biting"`
	OutputsAreProbabilities *bool    `yaml:"outputs_are_probabilities"`
}

// LoadMetadata reads a sidecar file. A missing file yields empty metadata.
func LoadMetadata(path string) (Metadata, error) {
	var md Metadata

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return md, nil
		}
		return md, fmt.Errorf("read model metadata: %w", err)
	}

	if err := yaml.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("parse model metadata %s: %w", path, err)
	}
	return md, nil
}
