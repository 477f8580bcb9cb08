package classifier

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ayusman/nailwatch/internal/preprocess"
)

// ServiceIdleTimeout is how long the model service may sit unused before it
// is shut down. It is restarted on the next prediction.
const ServiceIdleTimeout = 30 * time.Second

// ServiceRuntime runs a model through a Python subprocess (CoreML or
// onnxruntime), for model formats OpenCV cannot load.
//
// Each request is a 4-byte big-endian length plus a JSON header, followed by
// a 4-byte big-endian length plus the little-endian float32 tensor. The
// service answers with one JSON line.
type ServiceRuntime struct {
	script    string
	modelPath string
	python    string

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	writer    *bufio.Writer
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

type serviceRequest struct {
	Input string `json:"input"`
	Shape []int  `json:"shape"`
}

type serviceResponse struct {
	Outputs      map[string][]float64 `json:"outputs"`
	Classes      map[string]float64   `json:"classes"`
	UnknownInput bool                 `json:"unknown_input"`
	Error        string               `json:"error"`
}

// NewServiceRuntime prepares a service runtime. The subprocess starts lazily
// on the first Run. An empty script is looked up in the usual locations.
func NewServiceRuntime(script, modelPath string) (*ServiceRuntime, error) {
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, fmt.Errorf("classifier_service.py not found")
	}

	python := findVenvPython()
	if python == "" {
		python = "python3"
	}

	return &ServiceRuntime{
		script:    script,
		modelPath: modelPath,
		python:    python,
	}, nil
}

// Run sends t to the service under the given input name.
func (r *ServiceRuntime) Run(input string, t *preprocess.Tensor) (Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureStarted(); err != nil {
		return Output{}, err
	}

	header, err := json.Marshal(serviceRequest{Input: input, Shape: t.Shape()})
	if err != nil {
		return Output{}, fmt.Errorf("encode header: %w", err)
	}

	if err := r.writeFrame(header, t.Data); err != nil {
		r.shutdown()
		return Output{}, err
	}

	line, err := r.stdout.ReadString('\n')
	if err != nil {
		r.shutdown()
		return Output{}, fmt.Errorf("read response: %w", err)
	}

	var resp serviceResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		// The stream can no longer be trusted to be in step.
		r.shutdown()
		return Output{}, fmt.Errorf("parse response: %w", err)
	}

	r.resetIdleTimer()

	if resp.UnknownInput {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownInput, input)
	}
	if resp.Error != "" {
		return Output{}, fmt.Errorf("model service: %s", resp.Error)
	}

	return Output{Tensors: resp.Outputs, Classes: resp.Classes}, nil
}

func (r *ServiceRuntime) writeFrame(header []byte, data []float32) error {
	var length [4]byte

	binary.BigEndian.PutUint32(length[:], uint32(len(header)))
	if _, err := r.writer.Write(length[:]); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := r.writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	binary.BigEndian.PutUint32(length[:], uint32(len(data)*4))
	if _, err := r.writer.Write(length[:]); err != nil {
		return fmt.Errorf("write payload length: %w", err)
	}
	if err := binary.Write(r.writer, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("flush request: %w", err)
	}
	return nil
}

// Close shuts down the subprocess.
func (r *ServiceRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown()
}

func (r *ServiceRuntime) ensureStarted() error {
	if r.started {
		return nil
	}

	r.cmd = exec.Command(r.python, r.script, "--model", r.modelPath)

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	r.cmd.Stderr = os.Stderr

	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("start model service: %w", err)
	}

	r.stdin = stdin
	r.writer = bufio.NewWriterSize(stdin, 64*1024)
	r.stdout = bufio.NewReader(stdout)
	r.started = true

	return nil
}

func (r *ServiceRuntime) shutdown() error {
	if !r.started {
		return nil
	}

	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}

	if r.stdin != nil {
		r.stdin.Close()
	}

	err := r.cmd.Wait()
	r.started = false
	r.cmd = nil
	r.stdin = nil
	r.writer = nil
	r.stdout = nil

	return err
}

func (r *ServiceRuntime) resetIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(ServiceIdleTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/classifier_service.py",
		"../scripts/classifier_service.py",
		filepath.Join(execDir, "scripts/classifier_service.py"),
		filepath.Join(os.Getenv("HOME"), ".nailwatch/scripts/classifier_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".nailwatch/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
