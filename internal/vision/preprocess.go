package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// MaxImagePixels caps the decoded size of an upload. Larger images are
// rejected from their header alone.
const MaxImagePixels = 178956970

// Decode reads a raster image. Anything that is not a decodable image, or
// that would decode to more than MaxImagePixels pixels, fails with
// ErrUnsupportedImageFormat.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxImagePixels {
		return nil, fmt.Errorf("%w: image is %dx%d, more than %d pixels",
			ErrUnsupportedImageFormat, cfg.Width, cfg.Height, MaxImagePixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrUnsupportedImageFormat)
	}
	return img, nil
}

// Preprocess converts an image of any size and color model into the
// normalized model input tensor.
func Preprocess(img image.Image) (Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return Tensor{}, fmt.Errorf("%w: image has no pixels", ErrUnsupportedImageFormat)
	}

	gray := toGray(img)
	resized := asGray(resize.Resize(ModelSize, ModelSize, gray, resize.Lanczos3))

	b := resized.Bounds()
	if b.Dx() != ModelSize || b.Dy() != ModelSize {
		return Tensor{}, fmt.Errorf("resized image is %dx%d, expected %dx%d", b.Dx(), b.Dy(), ModelSize, ModelSize)
	}

	values := make([]float32, TotalPixels)
	var peak uint8
	for y := 0; y < ModelSize; y++ {
		for x := 0; x < ModelSize; x++ {
			v := resized.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			if v > peak {
				peak = v
			}
			values[y*ModelSize+x] = float32(v)
		}
	}

	// inputs whose intensities already sit in [0,1] are left as they are
	if peak > 1 {
		for i := range values {
			values[i] /= 255
		}
	}
	return Tensor{values: values}, nil
}

// toGray returns the luminance of img. Alpha is ignored.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return gray
}

func asGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
