package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

// overlay blend weights, colors and outline width
const (
	baseWeight       = 0.7
	layerWeight      = 0.3
	contourThickness = 2
)

var (
	tumorColor   = color.RGBA{R: 255, A: 255}
	contourColor = color.RGBA{G: 255, A: 255}
)

// Binarize applies the fixed tumor threshold to every cell.
func Binarize(p ProbabilityMask) BinaryMask {
	cells := make([]bool, TotalPixels)
	for i, v := range p.values {
		cells[i] = v > Threshold
	}
	return BinaryMask{cells: cells}
}

// Measure counts tumor cells. The total is always the model grid size,
// whatever the resolution of the uploaded image.
func Measure(m BinaryMask) Stats {
	tumor := m.Count()
	return Stats{
		TumorPixels:     tumor,
		TotalPixels:     TotalPixels,
		TumorPercentage: Percentage(tumor, TotalPixels),
	}
}

// Overlay renders the preprocessed input as RGB, blends a red layer over
// the tumor cells and outlines the external boundary of each tumor region
// in green. Channels are kept in RGB order; DrawContours assumes BGR, which
// makes no difference for pure green.
func Overlay(base Tensor, m BinaryMask) (*image.RGBA, error) {
	grayBytes := make([]byte, TotalPixels)
	layerBytes := make([]byte, TotalPixels*3)
	maskBytes := make([]byte, TotalPixels)
	for i, v := range base.values {
		grayBytes[i] = toByte(v)
		if m.cells[i] {
			layerBytes[i*3] = tumorColor.R
			layerBytes[i*3+1] = tumorColor.G
			layerBytes[i*3+2] = tumorColor.B
			maskBytes[i] = 255
		}
	}

	gray, err := gocv.NewMatFromBytes(ModelSize, ModelSize, gocv.MatTypeCV8UC1, grayBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to build base image: %w", err)
	}
	defer gray.Close()
	layer, err := gocv.NewMatFromBytes(ModelSize, ModelSize, gocv.MatTypeCV8UC3, layerBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to build tumor layer: %w", err)
	}
	defer layer.Close()
	mask, err := gocv.NewMatFromBytes(ModelSize, ModelSize, gocv.MatTypeCV8UC1, maskBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to build mask: %w", err)
	}
	defer mask.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(gray, &rgb, gocv.ColorGrayToBGR)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(rgb, baseWeight, layer, layerWeight, 0, &blended)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() > 0 {
		gocv.DrawContours(&blended, contours, -1, contourColor, contourThickness)
	}

	return rgbaFromMat(blended)
}

func rgbaFromMat(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Rows() != ModelSize || mat.Cols() != ModelSize || mat.Channels() != 3 {
		return nil, fmt.Errorf("overlay is %dx%dx%d, expected %dx%dx3",
			mat.Cols(), mat.Rows(), mat.Channels(), ModelSize, ModelSize)
	}
	data := mat.ToBytes()
	out := image.NewRGBA(image.Rect(0, 0, ModelSize, ModelSize))
	for i := 0; i < TotalPixels; i++ {
		out.Pix[i*4] = data[i*3]
		out.Pix[i*4+1] = data[i*3+1]
		out.Pix[i*4+2] = data[i*3+2]
		out.Pix[i*4+3] = 255
	}
	return out, nil
}

// MaskImage renders the mask as a grayscale image, 255 for tumor.
func MaskImage(m BinaryMask) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, ModelSize, ModelSize))
	for i, c := range m.cells {
		if c {
			out.Pix[i] = 255
		}
	}
	return out
}

// Restore resizes a model-sized image back to size. Images that already
// have that size are returned unchanged.
func Restore(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if b.Dx() == size.X && b.Dy() == size.Y {
		return img
	}
	return resize.Resize(uint(size.X), uint(size.Y), img, resize.Lanczos3)
}

// EncodePNG encodes img as PNG and returns it base64 encoded.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// toByte maps a normalized intensity back to 0..255, truncating the
// fraction.
func toByte(v float32) uint8 {
	f := float64(v) * 255
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f)
}
