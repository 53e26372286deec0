package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"media-toolkit/types"
	"media-toolkit/utils"
)

// encodeQuality matches the 0.95 quality used for lossy re-encodes.
const encodeQuality = 95

// DecodeImage sniffs and decodes an image, applying EXIF orientation.
func DecodeImage(data []byte) (image.Image, types.Format, error) {
	mimeType := utils.DetectMimeType(data)
	format, ok := types.FormatFromMime(mimeType)
	if !ok || format.Kind != types.ImageKind {
		return nil, types.Format{}, fmt.Errorf("%w: %s is not a supported image", ErrUnsupportedInput, mimeType)
	}

	var (
		img image.Image
		err error
	)
	if format.Name == "webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, types.Format{}, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedInput, format.Name, err)
	}
	return img, format, nil
}

// EncodeImage encodes img in the given format. quality applies to jpeg and webp.
func EncodeImage(img image.Image, format types.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format.Name {
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case "jpeg":
		err = imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "bmp":
		err = imaging.Encode(&buf, img, imaging.BMP)
	case "tiff":
		err = imaging.Encode(&buf, img, imaging.TIFF)
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrUnsupportedInput, format.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format.Name, err)
	}
	return buf.Bytes(), nil
}

// flatten composites transparent pixels onto white before lossy encoding.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1)
}

func imageResult(img image.Image, format types.Format, quality int, name string) (*Result, error) {
	data, err := EncodeImage(img, format, quality)
	if err != nil {
		return nil, err
	}
	return &Result{Name: name, MimeType: format.MimeType, Data: data}, nil
}

// sourceExtension returns the caller's extension without the dot, falling
// back to the detected format.
func sourceExtension(name string, format types.Format) string {
	if ext := strings.TrimPrefix(utils.Extension(name), "."); ext != "" {
		return ext
	}
	return strings.TrimPrefix(format.Extension, ".")
}

// CompressOptions sets the JPEG quality in percent.
type CompressOptions struct {
	Quality int `json:"quality" validate:"gte=1,lte=100"`
}

// CompressImage re-encodes an image as JPEG at the chosen quality.
func CompressImage(name string, data []byte, opts CompressOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return imageResult(img, types.Formats["jpeg"], opts.Quality, "compressed_"+utils.BaseName(name)+".jpg")
}

// ResizePresets are fixed social media dimensions.
var ResizePresets = map[string]image.Point{
	"instagram-post":    {X: 1080, Y: 1080},
	"instagram-story":   {X: 1080, Y: 1920},
	"facebook-cover":    {X: 851, Y: 315},
	"twitter-header":    {X: 1500, Y: 500},
	"youtube-thumbnail": {X: 1280, Y: 720},
	"linkedin-banner":   {X: 1584, Y: 396},
}

// ResizeOptions sets target dimensions. With MaintainRatio only one side is
// needed; Width wins when both are given.
type ResizeOptions struct {
	Width         int    `json:"width" validate:"gte=0,lte=16384"`
	Height        int    `json:"height" validate:"gte=0,lte=16384"`
	MaintainRatio bool   `json:"maintain_ratio"`
	Preset        string `json:"preset" validate:"omitempty,oneof=instagram-post instagram-story facebook-cover twitter-header youtube-thumbnail linkedin-banner"`
}

// ResizeDimensions resolves the output size for a source of srcW x srcH.
func ResizeDimensions(opts ResizeOptions, srcW, srcH int) (int, int, error) {
	if p, ok := ResizePresets[opts.Preset]; ok {
		return p.X, p.Y, nil
	}

	w, h := opts.Width, opts.Height
	aspect := float64(srcW) / float64(srcH)
	switch {
	case opts.MaintainRatio && w > 0:
		h = int(math.Round(float64(w) / aspect))
	case opts.MaintainRatio && h > 0:
		w = int(math.Round(float64(h) * aspect))
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: width and height must be positive", ErrInvalidOptions)
	}
	return w, h, nil
}

// ResizeImage scales an image with Lanczos resampling, keeping its format.
func ResizeImage(name string, data []byte, opts ResizeOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	img, format, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h, err := ResizeDimensions(opts, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	out := imaging.Resize(img, w, h, imaging.Lanczos)
	filename := "resized_" + strconv.Itoa(w) + "x" + strconv.Itoa(h) + "_" + utils.BaseName(name) + "." + sourceExtension(name, format)
	return imageResult(out, format, encodeQuality, filename)
}

// CropOptions selects a rectangle in percent of the source dimensions.
type CropOptions struct {
	X      float64 `json:"x" validate:"gte=0,lt=100"`
	Y      float64 `json:"y" validate:"gte=0,lt=100"`
	Width  float64 `json:"width" validate:"gt=0,lte=100"`
	Height float64 `json:"height" validate:"gt=0,lte=100"`
	Aspect string  `json:"aspect" validate:"aspect"`
}

// CropRect converts a percentage crop into pixels of a w x h source. A fixed
// aspect ratio keeps the pixel width and adjusts the height, shrinking both
// when the height would leave the image.
func CropRect(opts CropOptions, w, h int) image.Rectangle {
	x := int(math.Round(opts.X / 100 * float64(w)))
	y := int(math.Round(opts.Y / 100 * float64(h)))
	cw := int(math.Round(opts.Width / 100 * float64(w)))
	ch := int(math.Round(opts.Height / 100 * float64(h)))

	if num, den, ok := parseAspect(opts.Aspect); ok {
		ratio := num / den
		ch = int(math.Round(float64(cw) / ratio))
		if y+ch > h {
			ch = h - y
			cw = int(math.Round(float64(ch) * ratio))
		}
	}

	return image.Rect(x, y, x+cw, y+ch).Intersect(image.Rect(0, 0, w, h))
}

func parseAspect(s string) (float64, float64, bool) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, false
	}
	num, err1 := strconv.ParseFloat(a, 64)
	den, err2 := strconv.ParseFloat(b, 64)
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return 0, 0, false
	}
	return num, den, true
}

// CropImage cuts the selected rectangle out of the decoded original.
func CropImage(name string, data []byte, opts CropOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	img, format, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	rect := CropRect(opts, b.Dx(), b.Dy())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: crop area is empty", ErrInvalidOptions)
	}

	out := imaging.Crop(img, rect.Add(b.Min))
	return imageResult(out, format, encodeQuality, "cropped_"+utils.BaseName(name)+"."+sourceExtension(name, format))
}

// RotateOptions rotates clockwise by Rotation degrees after flipping.
type RotateOptions struct {
	Rotation int  `json:"rotation" validate:"oneof=0 90 180 270"`
	FlipH    bool `json:"flip_h"`
	FlipV    bool `json:"flip_v"`
}

// RotateFlip flips in the source frame, then rotates clockwise.
func RotateFlip(img image.Image, opts RotateOptions) *image.NRGBA {
	out := imaging.Clone(img)
	if opts.FlipH {
		out = imaging.FlipH(out)
	}
	if opts.FlipV {
		out = imaging.FlipV(out)
	}
	// imaging rotates counter-clockwise
	switch opts.Rotation {
	case 90:
		out = imaging.Rotate270(out)
	case 180:
		out = imaging.Rotate180(out)
	case 270:
		out = imaging.Rotate90(out)
	}
	return out
}

// RotateImage applies RotateFlip and always produces PNG.
func RotateImage(name string, data []byte, opts RotateOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return imageResult(RotateFlip(img, opts), types.Formats["png"], 0, "rotated-"+utils.BaseName(name)+".png")
}

// ImageConvertOptions selects the target image format.
type ImageConvertOptions struct {
	Format string `json:"format" validate:"oneof=jpeg jpg png webp gif bmp tiff"`
}

// ConvertImage re-encodes an image into another format.
func ConvertImage(name string, data []byte, opts ImageConvertOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	target, _ := types.LookupFormat(opts.Format)
	if current, ok := types.FormatFromMime(utils.DetectMimeType(data)); ok && current.Name == target.Name {
		return nil, fmt.Errorf("%w: %s", ErrSameFormat, target.Name)
	}

	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return imageResult(img, target, encodeQuality, utils.BaseName(name)+target.Extension)
}
