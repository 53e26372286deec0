package media

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"media-toolkit/utils"
)

// Anchor names one of the seven watermark placement presets.
type Anchor string

const (
	TopLeft      Anchor = "top-left"
	TopCenter    Anchor = "top-center"
	TopRight     Anchor = "top-right"
	Center       Anchor = "center"
	BottomLeft   Anchor = "bottom-left"
	BottomCenter Anchor = "bottom-center"
	BottomRight  Anchor = "bottom-right"
)

// Anchors lists every placement preset.
var Anchors = []Anchor{TopLeft, TopCenter, TopRight, Center, BottomLeft, BottomCenter, BottomRight}

const videoWatermarkPadding = 10

// AnchorExpr returns engine expressions for the top-left corner of content of
// size (cw, ch) placed inside a frame of size (fw, fh). Arguments are the
// engine's variable names, e.g. "w","h","text_w","text_h" for drawtext.
func AnchorExpr(anchor Anchor, fw, fh, cw, ch string, padding int) (string, string) {
	pad := strconv.Itoa(padding)
	near := pad
	middleX := "(" + fw + "-" + cw + ")/2"
	middleY := "(" + fh + "-" + ch + ")/2"
	farX := fw + "-" + cw + "-" + pad
	farY := fh + "-" + ch + "-" + pad

	switch anchor {
	case TopLeft:
		return near, near
	case TopCenter:
		return middleX, near
	case TopRight:
		return farX, near
	case Center:
		return middleX, middleY
	case BottomLeft:
		return near, farY
	case BottomCenter:
		return middleX, farY
	default:
		return farX, farY
	}
}

// ParseHexColor parses #rgb, #rgba, #rrggbb or #rrggbbaa. Invalid input
// yields white.
func ParseHexColor(s string) color.NRGBA {
	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 || len(hex) == 4 {
		long := make([]byte, 0, 2*len(hex))
		for i := 0; i < len(hex); i++ {
			long = append(long, hex[i], hex[i])
		}
		hex = string(long)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return white
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return white
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// colorAlpha folds the color's own alpha into an opacity percentage.
func colorAlpha(c color.NRGBA, opacity int) float64 {
	return math.Round(float64(c.A)*float64(opacity)/255) / 100
}

// watermarkTextFile holds the drawtext string. Reading it from a file keeps
// the text out of filtergraph and option quoting entirely.
const watermarkTextFile = "watermark.txt"

func drawtextContent(text string) []byte {
	return []byte(strings.NewReplacer("\r", "", "\n", " ").Replace(text))
}

// WatermarkOptions configures a text or image watermark burned into a video.
type WatermarkOptions struct {
	Type     string `json:"type" validate:"oneof=text image"`
	Text     string `json:"text" validate:"required_if=Type text,max=200"`
	FontSize int    `json:"font_size" validate:"gte=8,lte=200"`
	Color    string `json:"color" validate:"hexcolor"`
	Opacity  int    `json:"opacity" validate:"gte=0,lte=100"`
	Position Anchor `json:"position" validate:"oneof=top-left top-center top-right center bottom-left bottom-center bottom-right"`
	Scale    int    `json:"scale" validate:"gte=1,lte=100"`
}

// BuildWatermark overlays text, or the second source image, on a video.
// Image watermarks expect the overlay as sources[1].
func BuildWatermark(sources []string, opts WatermarkOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no video", ErrInvalidOptions)
	}

	input := workspaceName("input", sources[0])
	alpha := formatFloat(float64(opts.Opacity) / 100)
	files := []File{sourceFile(input, 0)}

	var args []string
	if opts.Type == "image" {
		if len(sources) < 2 {
			return nil, fmt.Errorf("%w: image watermark needs an overlay image", ErrInvalidOptions)
		}
		overlay := workspaceName("watermark", sources[1])
		files = append(files, sourceFile(overlay, 1))

		scale := formatFloat(float64(opts.Scale) / 100)
		x, y := AnchorExpr(opts.Position, "W", "H", "w", "h", videoWatermarkPadding)
		args = []string{
			"-i", input,
			"-i", overlay,
			"-filter_complex", "[1:v]scale=iw*" + scale + ":ih*" + scale + ",format=rgba,colorchannelmixer=aa=" + alpha +
				"[wm];[0:v][wm]overlay=" + x + ":" + y,
			"-c:a", "copy",
			"output.mp4",
		}
	} else {
		c := ParseHexColor(opts.Color)
		x, y := AnchorExpr(opts.Position, "w", "h", "text_w", "text_h", videoWatermarkPadding)
		files = append(files, File{Name: watermarkTextFile, Source: -1, Content: drawtextContent(opts.Text)})
		drawtext := fmt.Sprintf("drawtext=textfile=%s:expansion=none:fontsize=%d:fontcolor=0x%02x%02x%02x@%s:x=%s:y=%s",
			watermarkTextFile, opts.FontSize, c.R, c.G, c.B, formatFloat(colorAlpha(c, opts.Opacity)), x, y)
		args = []string{
			"-i", input,
			"-vf", drawtext,
			"-c:a", "copy",
			"output.mp4",
		}
	}

	return &Plan{
		Files:        files,
		Passes:       []Pass{{Args: args}},
		Output:       "output.mp4",
		DownloadName: "watermarked-" + utils.BaseName(sources[0]) + ".mp4",
		MimeType:     "video/mp4",
	}, nil
}
