package strategy

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

var ortOnce struct {
	sync.Mutex
	done bool
}

// InitializeORT points the runtime at its shared library and initializes the environment once.
func InitializeORT(libPath string) error {
	ortOnce.Lock()
	defer ortOnce.Unlock()
	if ortOnce.done || ort.IsInitialized() {
		ortOnce.done = true
		return nil
	}
	if libPath == "" {
		libPath = "/usr/lib/libonnxruntime.so"
		if runtime.GOOS == "windows" {
			libPath = "onnxruntime.dll"
		} else if runtime.GOOS == "darwin" {
			libPath = "libonnxruntime.dylib"
		}
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime (%s): %w", libPath, err)
	}
	ortOnce.done = true
	return nil
}

// SequenceModel runs an exported sequence model over the most recent bars.
type SequenceModel struct {
	mu      sync.Mutex
	scaler  *Scaler
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewSequenceModel loads scaler metadata and the model. seqLength overrides the metadata when positive.
func NewSequenceModel(modelPath, scalerPath, libPath string, seqLength int) (*SequenceModel, error) {
	scaler, err := LoadScaler(scalerPath)
	if err != nil {
		return nil, err
	}
	if seqLength > 0 {
		scaler.SeqLength = seqLength
	}
	if err := InitializeORT(libPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(scaler.SeqLength), int64(len(scaler.Features))))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(scaler.OutputSize)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{scaler.InputName}, []string{scaler.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &SequenceModel{scaler: scaler, session: session, input: inputTensor, output: outputTensor}, nil
}

// Name returns the configured identifier for logging.
func (m *SequenceModel) Name() string { return "SequenceModel" }

// SeqLength is the number of bars the model consumes.
func (m *SequenceModel) SeqLength() int { return m.scaler.SeqLength }

// Predict scales the last SeqLength bars and reads the model output. Confidence is |value|.
func (m *SequenceModel) Predict(bars []signal.Bar) (*signal.Signal, error) {
	if len(bars) < m.scaler.SeqLength {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(bars), m.scaler.SeqLength)
	}
	window := signal.Tail(bars, m.scaler.SeqLength)
	features := m.scaler.Transform(window)

	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.input.GetData(), features)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out := m.output.GetData()
	value := float64(out[outputIndex(len(out), m.scaler.CloseIdx)])

	latest := window[len(window)-1]
	sig := signal.New(latest.Symbol, value, fmt.Sprintf("model output %.4f", value), latest.Ts)
	return &sig, nil
}

// outputIndex picks the close column for multi-output models and the only value otherwise.
func outputIndex(size, closeIdx int) int {
	if size > 1 && closeIdx < size {
		return closeIdx
	}
	return 0
}

// Close destroys the session and tensors.
func (m *SequenceModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	if m.input != nil {
		_ = m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		_ = m.output.Destroy()
		m.output = nil
	}
	return err
}
