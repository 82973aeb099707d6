package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/vision"
)

// Server owns the ONNX session of the segmentation model. A Server whose
// artifact failed to load stays usable in a degraded state: it reports
// itself as not ready and rejects every inference call.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	environment  bool

	opts     Options
	metadata Metadata
	loadErr  error
	log      *log.Entry
}

func defaultMetadata() Metadata {
	shape := []int64{1, vision.ModelSize, vision.ModelSize, 1}
	return Metadata{
		Name:         "U-Net Brain Tumor Segmentation",
		Architecture: "U-Net 2D",
		InputName:    "input",
		OutputName:   "output",
		InputShape:   shape,
		OutputShape:  shape,
		ImageSize:    vision.ModelSize,
	}
}

// Load opens the model once. It never fails: load errors are logged and
// kept, and the returned Server is degraded.
func Load(opts Options, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &Server{opts: opts, metadata: defaultMetadata(), log: logger}
	if err := s.load(); err != nil {
		s.loadErr = err
		s.release()
		logger.WithError(err).Warn("[Model] Model not loaded, predictions will fail until it is available")
		return s
	}
	logger.WithFields(log.Fields{
		"model":        opts.ModelPath,
		"input_shape":  s.metadata.InputShape,
		"output_shape": s.metadata.OutputShape,
	}).Info("[Model] Model loaded")
	return s
}

func (s *Server) load() error {
	if _, err := os.Stat(s.opts.ModelPath); err != nil {
		return fmt.Errorf("model file not found at %s: %w", s.opts.ModelPath, err)
	}

	if s.opts.MetadataPath != "" {
		metaFile, err := os.ReadFile(s.opts.MetadataPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			s.log.WithField("path", s.opts.MetadataPath).Debug("[Model] No metadata file, using defaults")
		case err != nil:
			return fmt.Errorf("failed to read metadata: %w", err)
		default:
			if err := json.Unmarshal(metaFile, &s.metadata); err != nil {
				return fmt.Errorf("failed to parse metadata: %w", err)
			}
		}
	}
	if err := checkShape("input", s.metadata.InputShape); err != nil {
		return err
	}
	if err := checkShape("output", s.metadata.OutputShape); err != nil {
		return err
	}

	if s.opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(s.opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	s.environment = true

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.metadata.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.inputTensor = inputTensor

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.metadata.OutputShape...))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.outputTensor = outputTensor

	session, err := ort.NewAdvancedSession(s.opts.ModelPath,
		[]string{s.metadata.InputName}, []string{s.metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.session = session
	return nil
}

// checkShape makes sure a tensor shape holds exactly one model-sized grid.
func checkShape(name string, shape []int64) error {
	if len(shape) == 0 {
		return fmt.Errorf("%s shape is empty", name)
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if n != vision.TotalPixels {
		return fmt.Errorf("%s shape %v holds %d values, expected %d", name, shape, n, vision.TotalPixels)
	}
	return nil
}

// Ready reports whether inference calls can succeed.
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// LoadError returns why the model is not loaded, or nil.
func (s *Server) LoadError() error {
	return s.loadErr
}

func (s *Server) Info() Metadata {
	return s.metadata
}

func (s *Server) Status() Status {
	st := Status{Loaded: s.Ready(), ModelPath: s.opts.ModelPath}
	if s.loadErr != nil {
		st.Error = s.loadErr.Error()
	}
	return st
}

// Infer runs one forward pass. Runs are serialized because the session
// reads and writes the same bound tensors on every call.
func (s *Server) Infer(t vision.Tensor) (vision.ProbabilityMask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return vision.ProbabilityMask{}, ErrModelUnavailable
	}

	t.CopyTo(s.inputTensor.GetData())
	if err := s.session.Run(); err != nil {
		return vision.ProbabilityMask{}, fmt.Errorf("inference failed: %w", err)
	}
	return vision.NewProbabilityMask(s.outputTensor.GetData())
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Server) release() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.environment {
		ort.DestroyEnvironment()
		s.environment = false
	}
}
