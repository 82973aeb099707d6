package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/vision"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func TestLoadMissingModelIsDegraded(t *testing.T) {
	logger, hook := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "missing.onnx")

	s := Load(Options{ModelPath: path}, logrus.NewEntry(logger))
	defer s.Close()

	assert.False(t, s.Ready())
	require.Error(t, s.LoadError())
	assert.Contains(t, s.LoadError().Error(), "model file not found")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	st := s.Status()
	assert.False(t, st.Loaded)
	assert.Equal(t, path, st.ModelPath)
	assert.NotEmpty(t, st.Error)
}

func TestInferWhenDegraded(t *testing.T) {
	s := Load(Options{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, testLogger())
	tensor, err := vision.NewTensor(make([]float32, vision.TotalPixels))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Infer(tensor)
		assert.ErrorIs(t, err, ErrModelUnavailable)
	}
}

func TestLoadRejectsBadMetadata(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	metaPath := filepath.Join(dir, "model_metadata.json")
	require.NoError(t, os.WriteFile(modelPath, []byte("not really onnx"), 0o644))

	require.NoError(t, os.WriteFile(metaPath, []byte("{broken"), 0o644))
	s := Load(Options{ModelPath: modelPath, MetadataPath: metaPath}, testLogger())
	assert.False(t, s.Ready())
	assert.Contains(t, s.LoadError().Error(), "failed to parse metadata")

	require.NoError(t, os.WriteFile(metaPath, []byte(`{"input_shape":[1,64,64,1],"output_shape":[1,128,128,1]}`), 0o644))
	s = Load(Options{ModelPath: modelPath, MetadataPath: metaPath}, testLogger())
	assert.False(t, s.Ready())
	assert.Contains(t, s.LoadError().Error(), "input shape")
}

func TestDefaultMetadata(t *testing.T) {
	s := Load(Options{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, testLogger())
	info := s.Info()
	assert.Equal(t, []int64{1, 128, 128, 1}, info.InputShape)
	assert.Equal(t, []int64{1, 128, 128, 1}, info.OutputShape)
	assert.Equal(t, "U-Net 2D", info.Architecture)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, checkShape("input", []int64{1, 1, 128, 128}))
	assert.NoError(t, checkShape("input", []int64{16384}))
	assert.Error(t, checkShape("input", nil))
	assert.Error(t, checkShape("input", []int64{1, 128, 128, 3}))
}
