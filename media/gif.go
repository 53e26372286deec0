package media

import (
	"strconv"

	"media-toolkit/utils"
)

// GifOptions selects the clip window and the GIF frame rate and width.
type GifOptions struct {
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtfield=Start"`
	FPS   int     `json:"fps" validate:"oneof=10 15 20 30"`
	Width int     `json:"width" validate:"oneof=320 480 640 800"`
}

const paletteFile = "palette.png"

// BuildGif renders a video clip as a GIF in two passes: the first generates
// an optimized palette, the second encodes with it. The second pass reads the
// palette written by the first and must not run if the first fails.
func BuildGif(source string, opts GifOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	input := workspaceName("input", source)
	start := formatFloat(opts.Start)
	duration := opts.End - opts.Start
	length := formatFloat(duration)
	scale := "fps=" + strconv.Itoa(opts.FPS) + ",scale=" + strconv.Itoa(opts.Width) + ":-1:flags=lanczos"

	palette := Pass{
		Args: []string{
			"-i", input,
			"-ss", start,
			"-t", length,
			"-vf", scale + ",palettegen",
			paletteFile,
		},
		Duration: duration,
	}
	encode := Pass{
		Args: []string{
			"-i", input,
			"-i", paletteFile,
			"-ss", start,
			"-t", length,
			"-lavfi", scale + "[x];[x][1:v]paletteuse",
			"output.gif",
		},
		Duration: duration,
	}

	return &Plan{
		Files:        []File{sourceFile(input, 0)},
		Passes:       []Pass{palette, encode},
		Output:       "output.gif",
		DownloadName: utils.BaseName(source) + ".gif",
		MimeType:     "image/gif",
	}, nil
}
