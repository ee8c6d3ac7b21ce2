package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"

	"golang.org/x/image/draw"
)

// MaxUploadBytes caps accepted photo and scan uploads.
const MaxUploadBytes = 5 << 20

// Defaults applied by Process.
const (
	DefaultMaxDimension = 1024
	DefaultJPEGQuality  = 85
)

// ErrUnsupported is returned for anything that does not sniff as JPEG or PNG.
var ErrUnsupported = errors.New("unsupported image format (only JPEG and PNG accepted)")

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Options tunes normalization.
type Options struct {
	MaxDimension int
	Quality      int
}

// Image is a normalized image ready to store or send to the vision model.
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Sniff returns the MIME type detected from the leading bytes of data, or
// ErrUnsupported. Client-supplied content types are never trusted.
func Sniff(data []byte) (string, error) {
	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}
	return detected, nil
}

// Process normalizes an upload with the default options.
func Process(data []byte) (*Image, error) {
	return ProcessWith(data, Options{MaxDimension: DefaultMaxDimension, Quality: DefaultJPEGQuality})
}

// ProcessWith sniffs data, downscales it so neither side exceeds
// opts.MaxDimension, flattens transparency onto white and re-encodes as JPEG.
func ProcessWith(data []byte, opts Options) (*Image, error) {
	if _, err := Sniff(data); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	img = flatten(downscale(img, opts.MaxDimension))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	b := img.Bounds()
	return &Image{Data: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// downscale resizes img with Catmull-Rom so neither dimension exceeds
// maxDim, preserving aspect ratio. Smaller images are returned as is.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// flatten composites img over white. JPEG has no alpha channel and
// transparent pixels would otherwise encode as black.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
