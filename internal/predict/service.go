// Package predict runs the segmentation pipeline for uploaded images:
// decode, preprocess, infer, threshold, measure and render.
package predict

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/model"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/vision"
)

// MaxBatchSize is the largest number of files accepted by PredictBatch.
const MaxBatchSize = 10

const modelUnavailableMsg = "Model not loaded. Please ensure the model file exists at the specified path."

// Inferencer is the loaded model as seen by the pipeline.
type Inferencer interface {
	Ready() bool
	Infer(t vision.Tensor) (vision.ProbabilityMask, error)
}

type Service struct {
	model Inferencer
	log   *log.Entry
}

func NewService(m Inferencer, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Service{model: m, log: logger}
}

// Ready reports whether the model can serve predictions.
func (s *Service) Ready() bool {
	return s.model.Ready()
}

type segmentation struct {
	size   image.Point
	tensor vision.Tensor
	mask   vision.BinaryMask
	stats  vision.Stats
}

// Predict segments one image and renders the overlay and mask at the
// original image size.
func (s *Service) Predict(u Upload) (*Result, error) {
	if !s.model.Ready() {
		return nil, newError(ModelUnavailable, modelUnavailableMsg, model.ErrModelUnavailable)
	}
	if !isImage(u.ContentType) {
		return nil, newError(InvalidContentType, "File must be an image", nil)
	}

	start := time.Now()
	seg, err := s.segment(u.Data)
	if err != nil {
		return nil, err
	}

	rendered, err := vision.Overlay(seg.tensor, seg.mask)
	if err != nil {
		return nil, newError(InferenceFailure, "Prediction failed", err)
	}
	overlay, err := vision.EncodePNG(vision.Restore(rendered, seg.size))
	if err != nil {
		return nil, newError(InferenceFailure, "Prediction failed", err)
	}
	mask, err := vision.EncodePNG(vision.Restore(vision.MaskImage(seg.mask), seg.size))
	if err != nil {
		return nil, newError(InferenceFailure, "Prediction failed", err)
	}

	s.log.WithFields(log.Fields{
		"filename":      u.Filename,
		"original_size": fmt.Sprintf("%dx%d", seg.size.X, seg.size.Y),
		"tumor_pixels":  seg.stats.TumorPixels,
		"elapsed":       time.Since(start).String(),
	}).Debug("[Predict] Segmentation done")

	return &Result{
		Success:         true,
		TumorPixels:     seg.stats.TumorPixels,
		TotalPixels:     seg.stats.TotalPixels,
		TumorPercentage: seg.stats.TumorPercentage,
		SegmentedImage:  overlay,
		Mask:            mask,
		OriginalSize:    [2]int{seg.size.X, seg.size.Y},
		ModelSize:       [2]int{vision.ModelSize, vision.ModelSize},
	}, nil
}

// PredictBatch computes statistics for up to MaxBatchSize images. Items
// are processed one after another and a failing item does not stop the
// batch.
func (s *Service) PredictBatch(uploads []Upload) (*BatchResult, error) {
	if !s.model.Ready() {
		return nil, newError(ModelUnavailable, modelUnavailableMsg, model.ErrModelUnavailable)
	}
	if len(uploads) > MaxBatchSize {
		return nil, newError(BatchSizeExceeded, fmt.Sprintf("Maximum %d images allowed per batch", MaxBatchSize), nil)
	}
	if len(uploads) == 0 {
		return nil, newError(EmptyBatch, "No files provided", nil)
	}

	res := &BatchResult{
		TotalImages: len(uploads),
		Results:     make([]BatchItem, 0, len(uploads)),
	}
	for _, u := range uploads {
		item := BatchItem{Filename: u.Filename}
		seg, err := s.segment(u.Data)
		if err != nil {
			s.log.WithError(err).WithField("filename", u.Filename).Warn("[Batch] Item failed")
			item.Error = err.Error()
			res.Failed++
		} else {
			pixels, pct := seg.stats.TumorPixels, seg.stats.TumorPercentage
			item.Success = true
			item.TumorPixels = &pixels
			item.TumorPercentage = &pct
			res.Successful++
		}
		res.Results = append(res.Results, item)
	}

	s.log.WithFields(log.Fields{
		"total":      res.TotalImages,
		"successful": res.Successful,
		"failed":     res.Failed,
	}).Debug("[Batch] Batch done")
	return res, nil
}

func (s *Service) segment(data []byte) (*segmentation, error) {
	img, err := vision.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, newError(UnsupportedImageFormat, "", err)
	}
	tensor, err := vision.Preprocess(img)
	if err != nil {
		if errors.Is(err, vision.ErrUnsupportedImageFormat) {
			return nil, newError(UnsupportedImageFormat, "", err)
		}
		return nil, newError(InferenceFailure, "Preprocessing failed", err)
	}
	probs, err := s.model.Infer(tensor)
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) {
			return nil, newError(ModelUnavailable, modelUnavailableMsg, err)
		}
		return nil, newError(InferenceFailure, "Prediction failed", err)
	}
	mask := vision.Binarize(probs)
	return &segmentation{
		size:   img.Bounds().Size(),
		tensor: tensor,
		mask:   mask,
		stats:  vision.Measure(mask),
	}, nil
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}
