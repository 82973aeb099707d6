package model

import "errors"

// ErrModelUnavailable is returned by every inference call while the model
// is not loaded.
var ErrModelUnavailable = errors.New("model not loaded")

type Metadata struct {
	Name         string  `json:"model_name"`
	Architecture string  `json:"architecture"`
	InputName    string  `json:"input_name"`
	OutputName   string  `json:"output_name"`
	InputShape   []int64 `json:"input_shape"`
	OutputShape  []int64 `json:"output_shape"`
	TotalParams  int64   `json:"total_params"`
	ImageSize    int     `json:"image_size"`
}

// Options locate the model artifact and the ONNX Runtime library.
type Options struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
}

type Status struct {
	Loaded    bool   `json:"model_loaded"`
	ModelPath string `json:"model_path"`
	Error     string `json:"error,omitempty"`
}
