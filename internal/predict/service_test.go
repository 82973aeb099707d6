package predict

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/model"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/vision"
)

// stubModel stands in for the ONNX session.
type stubModel struct {
	ready bool
	err   error
	prob  func(x, y int) float32
	calls int
}

func (m *stubModel) Ready() bool { return m.ready }

func (m *stubModel) Infer(t vision.Tensor) (vision.ProbabilityMask, error) {
	m.calls++
	if m.err != nil {
		return vision.ProbabilityMask{}, m.err
	}
	values := make([]float32, vision.TotalPixels)
	for y := 0; y < vision.ModelSize; y++ {
		for x := 0; x < vision.ModelSize; x++ {
			if m.prob != nil {
				values[y*vision.ModelSize+x] = m.prob(x, y)
			}
		}
	}
	return vision.NewProbabilityMask(values)
}

func squareProb(x0, y0, x1, y1 int) func(x, y int) float32 {
	return func(x, y int) float32 {
		if x >= x0 && x <= x1 && y >= y0 && y <= y1 {
			return 0.95
		}
		return 0.02
	}
}

func newTestService(m Inferencer) *Service {
	logger, _ := test.NewNullLogger()
	return NewService(m, logrus.NewEntry(logger))
}

func pngUpload(t *testing.T, name string, w, h int) Upload {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return Upload{Filename: name, ContentType: "image/png", Data: buf.Bytes()}
}

func decodeGray(t *testing.T, encoded string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestPredictTotalPixelsIndependentOfSize(t *testing.T) {
	m := &stubModel{ready: true, prob: squareProb(40, 40, 59, 59)}
	svc := newTestService(m)

	for _, size := range []image.Point{{64, 64}, {128, 128}, {512, 300}, {97, 211}} {
		res, err := svc.Predict(pngUpload(t, "scan.png", size.X, size.Y))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, 16384, res.TotalPixels)
		assert.Equal(t, 400, res.TumorPixels)
		assert.LessOrEqual(t, res.TumorPixels, res.TotalPixels)
		assert.Equal(t, math.RoundToEven(100*float64(res.TumorPixels)/float64(res.TotalPixels)*100)/100, res.TumorPercentage)
		assert.Equal(t, [2]int{size.X, size.Y}, res.OriginalSize)
		assert.Equal(t, [2]int{128, 128}, res.ModelSize)

		overlay := decodeGray(t, res.SegmentedImage)
		assert.Equal(t, size, overlay.Bounds().Size())
		mask := decodeGray(t, res.Mask)
		assert.Equal(t, size, mask.Bounds().Size())
	}
}

func TestPredictAllZeroProbabilities(t *testing.T) {
	svc := newTestService(&stubModel{ready: true})
	res, err := svc.Predict(pngUpload(t, "black.png", 128, 128))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TumorPixels)
	assert.Equal(t, 0.0, res.TumorPercentage)
}

func TestPredictHalfProbabilityIsBackground(t *testing.T) {
	svc := newTestService(&stubModel{ready: true, prob: func(x, y int) float32 { return 0.5 }})
	res, err := svc.Predict(pngUpload(t, "scan.png", 128, 128))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TumorPixels)
}

func TestPredictMaskRoundTrip(t *testing.T) {
	m := &stubModel{ready: true, prob: squareProb(30, 30, 69, 69)}
	svc := newTestService(m)

	countAbove := func(img image.Image) int {
		n := 0
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y > 127 {
					n++
				}
			}
		}
		return n
	}

	res, err := svc.Predict(pngUpload(t, "same.png", 128, 128))
	require.NoError(t, err)
	mask := decodeGray(t, res.Mask)
	_, isGray := mask.(*image.Gray)
	assert.True(t, isGray, "mask should decode as grayscale, got %T", mask)
	assert.Equal(t, res.TumorPixels, countAbove(mask))

	res, err = svc.Predict(pngUpload(t, "double.png", 256, 256))
	require.NoError(t, err)
	expected := float64(res.TumorPixels * 4)
	assert.InEpsilon(t, expected, float64(countAbove(decodeGray(t, res.Mask))), 0.1)
}

func TestPredictModelUnavailable(t *testing.T) {
	m := &stubModel{ready: false}
	svc := newTestService(m)

	for i := 0; i < 3; i++ {
		_, err := svc.Predict(pngUpload(t, "scan.png", 32, 32))
		require.Error(t, err)
		assert.Equal(t, ModelUnavailable, KindOf(err))
		assert.ErrorIs(t, err, model.ErrModelUnavailable)
	}
	assert.Zero(t, m.calls, "no inference may run while the model is unavailable")

	_, err := svc.PredictBatch([]Upload{pngUpload(t, "a.png", 32, 32)})
	assert.Equal(t, ModelUnavailable, KindOf(err))
}

func TestPredictRejectsNonImageContentType(t *testing.T) {
	m := &stubModel{ready: true}
	svc := newTestService(m)
	up := pngUpload(t, "notes.txt", 32, 32)
	up.ContentType = "text/plain"

	_, err := svc.Predict(up)
	require.Error(t, err)
	assert.Equal(t, InvalidContentType, KindOf(err))
	assert.True(t, KindOf(err).ClientError())
	assert.Zero(t, m.calls)
}

func TestPredictUnsupportedImageFormat(t *testing.T) {
	svc := newTestService(&stubModel{ready: true})
	_, err := svc.Predict(Upload{Filename: "broken.png", ContentType: "image/png", Data: []byte("garbage")})
	require.Error(t, err)
	assert.Equal(t, UnsupportedImageFormat, KindOf(err))
	assert.ErrorIs(t, err, vision.ErrUnsupportedImageFormat)
}

func TestPredictInferenceFailure(t *testing.T) {
	svc := newTestService(&stubModel{ready: true, err: errors.New("session exploded")})
	_, err := svc.Predict(pngUpload(t, "scan.png", 32, 32))
	require.Error(t, err)
	assert.Equal(t, InferenceFailure, KindOf(err))
	assert.False(t, KindOf(err).ClientError())
	assert.Contains(t, err.Error(), "session exploded")
}

func TestPredictBatchTooLarge(t *testing.T) {
	m := &stubModel{ready: true}
	svc := newTestService(m)

	uploads := make([]Upload, 11)
	for i := range uploads {
		uploads[i] = pngUpload(t, "scan.png", 16, 16)
	}
	_, err := svc.PredictBatch(uploads)
	require.Error(t, err)
	assert.Equal(t, BatchSizeExceeded, KindOf(err))
	assert.Zero(t, m.calls)

	_, err = svc.PredictBatch(nil)
	assert.Equal(t, EmptyBatch, KindOf(err))
}

func TestPredictBatchIsolatesFailures(t *testing.T) {
	m := &stubModel{ready: true, prob: squareProb(0, 0, 9, 9)}
	svc := newTestService(m)

	res, err := svc.PredictBatch([]Upload{
		pngUpload(t, "one.png", 64, 64),
		{Filename: "corrupted.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1}},
		pngUpload(t, "three.png", 300, 200),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalImages)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)

	assert.Equal(t, "one.png", res.Results[0].Filename)
	assert.True(t, res.Results[0].Success)
	require.NotNil(t, res.Results[0].TumorPixels)
	assert.Equal(t, 100, *res.Results[0].TumorPixels)
	assert.Equal(t, 0.61, *res.Results[0].TumorPercentage)

	assert.Equal(t, "corrupted.png", res.Results[1].Filename)
	assert.False(t, res.Results[1].Success)
	assert.NotEmpty(t, res.Results[1].Error)
	assert.Nil(t, res.Results[1].TumorPixels)

	assert.True(t, res.Results[2].Success)
	assert.Equal(t, 2, m.calls)
}

func TestErrorDetail(t *testing.T) {
	err := newError(ModelUnavailable, modelUnavailableMsg, model.ErrModelUnavailable)
	assert.Equal(t, modelUnavailableMsg, err.Detail())

	err = newError(InferenceFailure, "Prediction failed", errors.New("boom"))
	assert.Equal(t, "Prediction failed: boom", err.Detail())
	assert.Equal(t, "InferenceFailure", err.Kind.String())
}
