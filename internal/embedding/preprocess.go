package embedding

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImageNet channel statistics used by DINOv2.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor converts an image into the model's pixel_values tensor layout.
type Preprocessor struct {
	// ResizeShortest is the target length of the shorter edge before cropping.
	ResizeShortest int
	// CropSize is the side of the square center crop fed to the model.
	CropSize int
	Mean     [3]float32
	Std      [3]float32
}

// NewPreprocessor returns a DINOv2 preprocessor: shortest edge to resizeShortest
// (bicubic), center crop cropSize, ImageNet normalization.
func NewPreprocessor(resizeShortest, cropSize int) Preprocessor {
	if cropSize <= 0 {
		cropSize = 224
	}
	if resizeShortest < cropSize {
		resizeShortest = cropSize
	}
	return Preprocessor{
		ResizeShortest: resizeShortest,
		CropSize:       cropSize,
		Mean:           imagenetMean,
		Std:            imagenetStd,
	}
}

// Len is the number of floats PixelValues writes.
func (p Preprocessor) Len() int {
	return 3 * p.CropSize * p.CropSize
}

// PixelValues resizes, crops and normalizes img into dst in CHW order.
// dst must have length Len(); a new slice is allocated when dst is nil.
func (p Preprocessor) PixelValues(img image.Image, dst []float32) []float32 {
	if dst == nil {
		dst = make([]float32, p.Len())
	}
	b := img.Bounds()
	var resized *image.NRGBA
	if b.Dx() <= b.Dy() {
		resized = imaging.Resize(img, p.ResizeShortest, 0, imaging.CatmullRom)
	} else {
		resized = imaging.Resize(img, 0, p.ResizeShortest, imaging.CatmullRom)
	}
	cropped := imaging.CropCenter(resized, p.CropSize, p.CropSize)

	plane := p.CropSize * p.CropSize
	cb := cropped.Bounds()
	for y := 0; y < cb.Dy() && y < p.CropSize; y++ {
		row := cropped.Pix[y*cropped.Stride:]
		for x := 0; x < cb.Dx() && x < p.CropSize; x++ {
			px := row[x*4 : x*4+3]
			i := y*p.CropSize + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				dst[c*plane+i] = (v - p.Mean[c]) / p.Std[c]
			}
		}
	}
	return dst
}
