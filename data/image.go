package data

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	// decoders registered with image.Decode
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	pix2pix "pix2pix/src"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// IsImageFile reports whether path has a known image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DecodeImage decodes any registered image format into RGBA.
func DecodeImage(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return toRGBA(img), nil
}

// LoadImage reads and decodes the image at path.
func LoadImage(path string) (*image.RGBA, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// splitAB cuts a side-by-side image into its left (A) and right (B) halves.
func splitAB(ab *image.RGBA) (*image.RGBA, *image.RGBA) {
	w, h := ab.Bounds().Dx(), ab.Bounds().Dy()
	half := w / 2
	a := toRGBA(ab.SubImage(image.Rect(0, 0, half, h)))
	b := toRGBA(ab.SubImage(image.Rect(half, 0, 2*half, h)))
	return a, b
}

// Resize scales img to w×h with bilinear filtering.
func Resize(img *image.RGBA, w, h int) *image.RGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// transformParams are drawn once per pair so A and B get the same crop and
// flip.
type transformParams struct {
	cropX, cropY int
	flip         bool
}

func randomParams(o Options, w, h int, rng *rand.Rand) transformParams {
	newW, newH := w, h
	switch o.Preprocess {
	case ResizeAndCrop:
		newW, newH = o.LoadSize, o.LoadSize
	case ScaleWidth:
		newW, newH = o.LoadSize, o.LoadSize*h/w
	}
	p := transformParams{
		cropX: rng.Intn(max(0, newW-o.CropSize) + 1),
		cropY: rng.Intn(max(0, newH-o.CropSize) + 1),
	}
	p.flip = !o.NoFlip && rng.Float64() > 0.5
	return p
}

// transform applies the preprocessing pipeline with fixed params.
func transform(img *image.RGBA, o Options, p transformParams) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	switch o.Preprocess {
	case ResizeAndCrop:
		img = Resize(img, o.LoadSize, o.LoadSize)
		img = crop(img, p.cropX, p.cropY, o.CropSize)
	case Crop:
		img = crop(img, p.cropX, p.cropY, o.CropSize)
	case ScaleWidth:
		if w != o.LoadSize || h < o.CropSize {
			img = Resize(img, o.LoadSize, max(o.LoadSize*h/w, o.CropSize))
		}
	case None:
		img = Resize(img, makePower(w, 4), makePower(h, 4))
	}
	if p.flip {
		img = flipHorizontal(img)
	}
	return img
}

// makePower rounds v to the nearest multiple of base, at least base.
func makePower(v, base int) int {
	r := ((v + base/2) / base) * base
	if r < base {
		return base
	}
	return r
}

func crop(img *image.RGBA, x, y, size int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= size && h <= size {
		return img
	}
	r := image.Rect(x, y, min(x+size, w), min(y+size, h))
	return toRGBA(img.SubImage(r))
}

func flipHorizontal(img *image.RGBA) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(w-1-x, y, img.RGBAAt(x, y))
		}
	}
	return out
}

// imageData converts img to CHW floats in [-1, 1]. One channel means
// grayscale, otherwise RGB.
func imageData(img *image.RGBA, channels int) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	out := make([]float64, channels*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := img.RGBAAt(x, y)
			i := y*w + x
			if channels == 1 {
				g := color.GrayModel.Convert(px).(color.Gray)
				out[i] = float64(g.Y)/127.5 - 1
				continue
			}
			out[i] = float64(px.R)/127.5 - 1
			out[plane+i] = float64(px.G)/127.5 - 1
			out[2*plane+i] = float64(px.B)/127.5 - 1
		}
	}
	return out
}

// ToTensor converts one image into a [1, channels, H, W] tensor.
func ToTensor(img *image.RGBA, channels int) (*pix2pix.Tensor, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return pix2pix.FromData(imageData(img, channels), 1, channels, img.Bounds().Dy(), img.Bounds().Dx())
}

// TensorImage converts sample idx of an NCHW tensor in [-1, 1] back to an
// image. Values outside the range are clamped.
func TensorImage(t *pix2pix.Tensor, idx int) (image.Image, error) {
	shape := t.Shape()
	if len(shape) != 4 || idx < 0 || idx >= shape[0] {
		return nil, fmt.Errorf("no sample %d in tensor of shape %v", idx, shape)
	}
	c, h, w := shape[1], shape[2], shape[3]
	plane := h * w
	data := t.Data()[idx*c*plane : (idx+1)*c*plane]

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i, v := range data {
			img.Pix[i] = toByte(v)
		}
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[4*i] = toByte(data[i])
			img.Pix[4*i+1] = toByte(data[plane+i])
			img.Pix[4*i+2] = toByte(data[2*plane+i])
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported channel count %d", c)
}

func toByte(v float64) uint8 {
	f := (v + 1) * 127.5
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(f + 0.5)
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
