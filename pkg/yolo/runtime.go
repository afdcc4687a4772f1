// Package yolo runs Ultralytics YOLO detection and classification models
// exported to ONNX.
package yolo

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// ErrUnexpectedOutput is returned when a model output has an unsupported
// type or shape.
var ErrUnexpectedOutput = errors.New("yolo: unexpected model output")

// Init loads the onnxruntime shared library. Only the first call has an
// effect; later calls return the first result.
func Init(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("yolo: init onnxruntime: %w", err)
		}
	})
	return initErr
}

// model is a single-input single-output ONNX session.
type model struct {
	path    string
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
}

func loadModel(path string, threads int) (*model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("yolo: inspect %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("yolo: %s has no inputs or outputs", path)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if threads > 0 {
		_ = options.SetIntraOpNumThreads(threads)
		_ = options.SetInterOpNumThreads(1)
	}

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		options,
	)
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("yolo: load %s: %w", path, err)
	}
	return &model{path: path, session: session, options: options}, nil
}

// run feeds one NCHW float tensor and returns the first output's data and
// shape.
func (m *model) run(input []float32, shape ort.Shape) ([]float32, ort.Shape, error) {
	tensor, err := ort.NewTensor(shape, input)
	if err != nil {
		return nil, nil, err
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("yolo: run %s: %w", m.path, err)
	}
	if outputs[0] == nil {
		return nil, nil, ErrUnexpectedOutput
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrUnexpectedOutput, outputs[0])
	}
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return data, append(ort.Shape(nil), out.GetShape()...), nil
}

func (m *model) close() error {
	err := m.session.Destroy()
	m.options.Destroy()
	return err
}
