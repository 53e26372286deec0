package media

import (
	"fmt"
	"strings"

	"media-toolkit/utils"
)

const (
	minTempoStage = 0.5
	maxTempoStage = 2.0
)

// SpeedOptions configures a playback speed change.
type SpeedOptions struct {
	Speed         float64 `json:"speed" validate:"gt=0,lte=4"`
	PreserveAudio bool    `json:"preserve_audio"`
}

// TempoChain splits an audio speed factor into atempo stages that each stay
// within [0.5, 2.0]. The product of the returned factors equals speed.
func TempoChain(speed float64) []float64 {
	var stages []float64
	remaining := speed
	for remaining > maxTempoStage {
		stages = append(stages, maxTempoStage)
		remaining /= maxTempoStage
	}
	for remaining < minTempoStage {
		stages = append(stages, minTempoStage)
		remaining /= minTempoStage
	}
	return append(stages, remaining)
}

func tempoFilter(speed float64) string {
	stages := TempoChain(speed)
	parts := make([]string, len(stages))
	for i, s := range stages {
		if s == maxTempoStage || s == minTempoStage {
			parts[i] = fmt.Sprintf("atempo=%.1f", s)
		} else {
			parts[i] = "atempo=" + formatFloat(s)
		}
	}
	return strings.Join(parts, ",")
}

// BuildSpeed changes playback speed. The video PTS factor is 1/speed; audio is
// re-timed through a tempo chain or dropped.
func BuildSpeed(source string, opts SpeedOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if opts.Speed == 1 {
		return nil, fmt.Errorf("%w: speed 1x", ErrIdentityTransform)
	}

	input := workspaceName("input", source)
	pts := "setpts=" + formatFloat(1/opts.Speed) + "*PTS"

	var args []string
	if opts.PreserveAudio {
		args = []string{
			"-i", input,
			"-filter_complex", "[0:v]" + pts + "[v];[0:a]" + tempoFilter(opts.Speed) + "[a]",
			"-map", "[v]",
			"-map", "[a]",
			"output.mp4",
		}
	} else {
		args = []string{
			"-i", input,
			"-filter:v", pts,
			"-an",
			"output.mp4",
		}
	}

	return &Plan{
		Files:        []File{sourceFile(input, 0)},
		Passes:       []Pass{{Args: args}},
		Output:       "output.mp4",
		DownloadName: formatFloat(opts.Speed) + "x-" + utils.BaseName(source) + ".mp4",
		MimeType:     "video/mp4",
	}, nil
}
