package classifier

import (
	"fmt"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"

	"github.com/ayusman/nailwatch/internal/preprocess"
)

// DNNRuntime runs an ONNX model in-process through OpenCV's dnn module.
type DNNRuntime struct {
	net        gocv.Net
	inputs     map[string]bool
	outputName string
	mu         sync.Mutex
}

// NewDNNRuntime loads an ONNX model. inputNames lists the input slots the
// graph declares; OpenCV aborts on unknown names so they are checked here.
// outputName selects the layer to read; empty means the final layer.
func NewDNNRuntime(path string, inputNames []string, outputName string) (*DNNRuntime, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("load onnx model %s: empty network", path)
	}

	inputs := make(map[string]bool, len(inputNames))
	for _, name := range inputNames {
		inputs[name] = true
	}

	return &DNNRuntime{
		net:        net,
		inputs:     inputs,
		outputName: outputName,
	}, nil
}

// Run feeds t into the named input and returns the forward pass output.
func (r *DNNRuntime) Run(input string, t *preprocess.Tensor) (Output, error) {
	if !r.inputs[input] {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownInput, input)
	}

	blob, err := gocv.NewMatWithSizesFromBytes(t.Shape(), gocv.MatTypeCV32F, float32Bytes(t.Data))
	if err != nil {
		return Output{}, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.net.SetInput(blob, input)
	out := r.net.Forward(r.outputName)
	defer out.Close()

	if out.Empty() {
		return Output{}, fmt.Errorf("%w: empty forward output", ErrNoPrediction)
	}

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return Output{}, fmt.Errorf("read forward output: %w", err)
	}

	vals := make([]float64, len(raw))
	for i, v := range raw {
		vals[i] = float64(v)
	}

	name := r.outputName
	if name == "" {
		name = "output"
	}
	return Output{Tensors: map[string][]float64{name: vals}}, nil
}

// Close releases the network.
func (r *DNNRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.net.Close()
}

// float32Bytes reinterprets the tensor data in native byte order.
func float32Bytes(data []float32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), len(data)*4)
}
