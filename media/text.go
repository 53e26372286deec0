package media

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"media-toolkit/utils"
)

const (
	imageWatermarkPadding = 20
	shadowOffset          = 2
)

var shadowColor = color.NRGBA{A: 128}

// TextWatermarkOptions configures a text watermark drawn onto an image.
type TextWatermarkOptions struct {
	Text     string `json:"text" validate:"required,max=200"`
	FontSize int    `json:"font_size" validate:"gte=8,lte=400"`
	Opacity  int    `json:"opacity" validate:"gte=0,lte=100"`
	Position Anchor `json:"position" validate:"oneof=top-left top-center top-right center bottom-left bottom-center bottom-right"`
	Font     string `json:"font" validate:"oneof=sans serif mono bold"`
	Color    string `json:"color" validate:"hexcolor"`
}

// TextOrigin returns the text baseline origin for a tw x th label on a w x h
// image. Top anchors sit padding+th from the top edge; bottom anchors put the
// baseline padding above the bottom edge.
func TextOrigin(anchor Anchor, w, h, tw, th, padding int) image.Point {
	left := padding
	middle := int(math.Round(float64(w-tw) / 2))
	right := w - tw - padding
	top := padding + th
	bottom := h - padding

	switch anchor {
	case TopLeft:
		return image.Pt(left, top)
	case TopCenter:
		return image.Pt(middle, top)
	case TopRight:
		return image.Pt(right, top)
	case Center:
		return image.Pt(middle, int(math.Round(float64(h)/2)))
	case BottomLeft:
		return image.Pt(left, bottom)
	case BottomCenter:
		return image.Pt(middle, bottom)
	default:
		return image.Pt(right, bottom)
	}
}

var (
	fontsOnce sync.Once
	fonts     map[string]*opentype.Font
	fontsErr  error
)

func loadFont(name string) (*opentype.Font, error) {
	fontsOnce.Do(func() {
		sources := map[string][]byte{
			"sans": goregular.TTF,
			"bold": gobold.TTF,
			"mono": gomono.TTF,
		}
		fonts = make(map[string]*opentype.Font, len(sources))
		for key, ttf := range sources {
			f, err := opentype.Parse(ttf)
			if err != nil {
				fontsErr = fmt.Errorf("parse %s font: %w", key, err)
				return
			}
			fonts[key] = f
		}
		// Go Mono is the only slab serif face bundled with x/image.
		fonts["serif"] = fonts["mono"]
	})
	if fontsErr != nil {
		return nil, fontsErr
	}
	f, ok := fonts[name]
	if !ok {
		return fonts["sans"], nil
	}
	return f, nil
}

// DrawTextWatermark renders the label with a drop shadow and blends it onto
// img at the requested opacity.
func DrawTextWatermark(img image.Image, opts TextWatermarkOptions) (*image.NRGBA, error) {
	f, err := loadFont(opts.Font)
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(opts.FontSize),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	b := img.Bounds()
	tw := font.MeasureString(face, opts.Text).Ceil()
	origin := TextOrigin(opts.Position, b.Dx(), b.Dy(), tw, opts.FontSize, imageWatermarkPadding)

	layer := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(shadowColor),
		Face: face,
		Dot:  fixed.P(origin.X+shadowOffset, origin.Y+shadowOffset),
	}
	drawer.DrawString(opts.Text)

	drawer.Src = image.NewUniform(ParseHexColor(opts.Color))
	drawer.Dot = fixed.P(origin.X, origin.Y)
	drawer.DrawString(opts.Text)

	return imaging.Overlay(img, layer, b.Min, float64(opts.Opacity)/100), nil
}

// WatermarkImage draws a text watermark and keeps the input format.
func WatermarkImage(name string, data []byte, opts TextWatermarkOptions) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	img, format, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	out, err := DrawTextWatermark(img, opts)
	if err != nil {
		return nil, err
	}
	return imageResult(out, format, encodeQuality, "watermarked_"+utils.BaseName(name)+"."+sourceExtension(name, format))
}
