package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// ONNXOpener opens models with onnxruntime.
type ONNXOpener struct {
	LibraryPath string // onnxruntime shared library; empty uses the default lookup
	Threads     int    // intra-op threads; 0 lets the runtime decide
}

func (o *ONNXOpener) initEnvironment() error {
	envOnce.Do(func() {
		if o.LibraryPath != "" {
			ort.SetSharedLibraryPath(o.LibraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Open creates a session for the model at path on the given provider.
func (o *ONNXOpener) Open(path string, provider Provider) (Session, error) {
	if err := o.initEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model io: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	if o.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(o.Threads); err != nil {
			return nil, err
		}
	}

	switch provider {
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, err
		}
	case ProviderCPU:
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, opts)
	if err != nil {
		return nil, err
	}
	return &onnxSession{session: session, inputs: inputs, outputs: outNames}, nil
}

type onnxSession struct {
	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []string
}

func (s *onnxSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	for _, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", info.Name)
		}
		v, err := toValue(info, t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", info.Name, err)
		}
		values = append(values, v)
	}

	outs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(values, outs); err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	result := make(map[string]*Tensor, len(outs))
	for i, v := range outs {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s.outputs[i], err)
		}
		result[s.outputs[i]] = t
	}
	return result, nil
}

func (s *onnxSession) Release() error {
	return s.session.Destroy()
}

// toValue converts t for the declared model input. An HxWx4 uint8 raster fed
// to a float input becomes a 1x3xHxW RGB tensor scaled to [0,1].
func toValue(info ort.InputOutputInfo, t *Tensor) (ort.Value, error) {
	switch t.Type {
	case Float32:
		return ort.NewTensor(ort.NewShape(t.Shape...), t.Float32)
	case Uint8:
		if info.DataType == ort.TensorElementDataTypeFloat && len(t.Shape) == 3 && t.Shape[2] == 4 {
			h, w := t.Shape[0], t.Shape[1]
			return ort.NewTensor(ort.NewShape(1, 3, h, w), rasterToCHW(t.Uint8, int(h), int(w)))
		}
		return ort.NewTensor(ort.NewShape(t.Shape...), t.Uint8)
	default:
		return nil, fmt.Errorf("unsupported tensor type %s", t.Type)
	}
}

func rasterToCHW(pix []uint8, h, w int) []float32 {
	plane := h * w
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		out[i] = float32(pix[i*4]) / 255
		out[plane+i] = float32(pix[i*4+1]) / 255
		out[2*plane+i] = float32(pix[i*4+2]) / 255
	}
	return out
}

func fromValue(v ort.Value) (*Tensor, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		data := append([]float32(nil), t.GetData()...)
		return NewFloat32(append([]int64(nil), t.GetShape()...), data)
	case *ort.Tensor[uint8]:
		data := append([]uint8(nil), t.GetData()...)
		return NewUint8(append([]int64(nil), t.GetShape()...), data)
	case *ort.Tensor[int64]:
		src := t.GetData()
		data := make([]float32, len(src))
		for i, x := range src {
			data[i] = float32(x)
		}
		return NewFloat32(append([]int64(nil), t.GetShape()...), data)
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

// RoutingOpener sends http(s) model locations to Remote and everything else
// to Local.
type RoutingOpener struct {
	Local  Opener
	Remote Opener
}

func (r *RoutingOpener) Open(path string, provider Provider) (Session, error) {
	if r.Remote != nil && (strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")) {
		return r.Remote.Open(path, provider)
	}
	return r.Local.Open(path, provider)
}
