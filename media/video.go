package media

import (
	"fmt"
	"strconv"
	"strings"

	"media-toolkit/types"
	"media-toolkit/utils"
)

// TrimOptions selects the [Start, End) window in seconds.
type TrimOptions struct {
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtfield=Start"`
}

// BuildTrim cuts a window out of a video without re-encoding.
func BuildTrim(source string, opts TrimOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	input := workspaceName("input", source)
	duration := opts.End - opts.Start
	return &Plan{
		Files: []File{sourceFile(input, 0)},
		Passes: []Pass{{
			Args: []string{
				"-i", input,
				"-ss", formatFloat(opts.Start),
				"-t", formatFloat(duration),
				"-c", "copy",
				"output.mp4",
			},
			Duration: duration,
		}},
		Output:       "output.mp4",
		DownloadName: "trimmed-" + utils.BaseName(source) + ".mp4",
		MimeType:     "video/mp4",
	}, nil
}

// ConvertOptions selects the target container and quality tier.
type ConvertOptions struct {
	Format  string `json:"format" validate:"oneof=mp4 webm mov avi"`
	Quality string `json:"quality" validate:"oneof=high medium low"`
}

var crfByQuality = map[string]string{
	"high":   "18",
	"medium": "23",
	"low":    "28",
}

// BuildConvert re-encodes a video into another container.
func BuildConvert(src Source, opts ConvertOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if f, ok := src.format(); ok && f.Name == opts.Format {
		return nil, fmt.Errorf("%w: %s", ErrSameFormat, opts.Format)
	}

	source := src.Name
	input := workspaceName("input", source)
	crf := crfByQuality[opts.Quality]

	args := []string{"-i", input}
	switch opts.Format {
	case "webm":
		args = append(args, "-c:v", "libvpx-vp9", "-crf", crf, "-b:v", "0", "-c:a", "libopus", "-b:a", "128k")
	case "avi":
		args = append(args, "-c:v", "libx264", "-crf", crf, "-preset", "medium", "-c:a", "mp3", "-b:a", "128k")
	default:
		args = append(args, "-c:v", "libx264", "-crf", crf, "-preset", "medium", "-c:a", "aac", "-b:a", "128k")
	}

	output, mimeType := outputFile(opts.Format)
	args = append(args, "-movflags", "+faststart", output)

	return &Plan{
		Files:        []File{sourceFile(input, 0)},
		Passes:       []Pass{{Args: args}},
		Output:       output,
		DownloadName: utils.BaseName(source) + "." + opts.Format,
		MimeType:     mimeType,
	}, nil
}

// ExtractAudioOptions selects the audio format and bitrate in kbps.
type ExtractAudioOptions struct {
	Format  string `json:"format" validate:"oneof=mp3 wav aac ogg"`
	Bitrate int    `json:"bitrate" validate:"oneof=128 192 256 320"`
}

// BuildExtractAudio drops the video stream and encodes the audio track.
func BuildExtractAudio(source string, opts ExtractAudioOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	input := workspaceName("input", source)
	bitrate := strconv.Itoa(opts.Bitrate) + "k"

	args := []string{"-i", input, "-vn"}
	switch opts.Format {
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrate)
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", bitrate)
	case "ogg":
		args = append(args, "-c:a", "libvorbis", "-b:a", bitrate)
	}

	output, mimeType := outputFile(opts.Format)
	args = append(args, output)

	return &Plan{
		Files:        []File{sourceFile(input, 0)},
		Passes:       []Pass{{Args: args}},
		Output:       output,
		DownloadName: utils.BaseName(source) + "." + opts.Format,
		MimeType:     mimeType,
	}, nil
}

// GifToVideoOptions selects the target container and how often the GIF plays.
type GifToVideoOptions struct {
	Format string `json:"format" validate:"oneof=mp4 webm mov"`
	Loops  int    `json:"loops" validate:"gte=1,lte=10"`
}

const evenDimensions = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

// BuildGifToVideo turns an animated GIF into a video, repeating it Loops times.
func BuildGifToVideo(src Source, opts GifToVideoOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if f, ok := src.format(); !ok || f.Name != "gif" {
		return nil, fmt.Errorf("%w: expected a gif, got %q", ErrUnsupportedInput, src.Name)
	}

	args := []string{"-stream_loop", strconv.Itoa(opts.Loops - 1), "-i", "input.gif"}
	switch opts.Format {
	case "mp4":
		args = append(args, "-movflags", "faststart", "-pix_fmt", "yuv420p", "-vf", evenDimensions)
	case "webm":
		args = append(args, "-c:v", "libvpx-vp9", "-pix_fmt", "yuv420p")
	case "mov":
		args = append(args, "-pix_fmt", "yuv420p", "-vf", evenDimensions)
	}

	output, mimeType := outputFile(opts.Format)
	args = append(args, output)

	return &Plan{
		Files:        []File{sourceFile("input.gif", 0)},
		Passes:       []Pass{{Args: args}},
		Output:       output,
		DownloadName: utils.BaseName(src.Name) + "." + opts.Format,
		MimeType:     mimeType,
	}, nil
}

// MergeOptions configures concatenation of two or more videos.
type MergeOptions struct {
	Format   string `json:"format" validate:"oneof=mp4 webm mov"`
	Reencode bool   `json:"reencode"`
}

// BuildMerge concatenates sources in order with the concat demuxer. Streams
// are copied unless Reencode is set; there is no automatic fallback.
func BuildMerge(sources []string, opts MergeOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(sources) < 2 {
		return nil, fmt.Errorf("%w: merging needs at least 2 videos, got %d", ErrInvalidOptions, len(sources))
	}

	files := make([]File, 0, len(sources)+1)
	var list strings.Builder
	for i, src := range sources {
		name := workspaceName("input"+strconv.Itoa(i), src)
		files = append(files, sourceFile(name, i))
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(name, "'", `'\''`))
	}
	files = append(files, File{Name: "concat.txt", Source: -1, Content: []byte(list.String())})

	f, _ := types.LookupFormat(opts.Format)
	output := "merged" + f.Extension

	args := []string{"-f", "concat", "-safe", "0", "-i", "concat.txt"}
	if opts.Reencode {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23", "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, output)

	return &Plan{
		Files:        files,
		Passes:       []Pass{{Args: args}},
		Output:       output,
		DownloadName: "merged-video." + opts.Format,
		MimeType:     f.MimeType,
	}, nil
}

// MusicOptions configures a soundtrack. Volumes are percentages.
type MusicOptions struct {
	ReplaceAudio   bool `json:"replace_audio"`
	AudioVolume    int  `json:"audio_volume" validate:"gte=0,lte=200"`
	OriginalVolume int  `json:"original_volume" validate:"gte=0,lte=200"`
}

// BuildAddMusic lays an audio track over a video, either replacing the
// original audio or mixing both. Output length follows the video.
func BuildAddMusic(video, audio string, opts MusicOptions) (*Plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	input := workspaceName("input", video)
	track := workspaceName("audio", audio)
	audioVol := formatFloat(float64(opts.AudioVolume) / 100)

	args := []string{"-i", input, "-i", track}
	if opts.ReplaceAudio {
		args = append(args,
			"-c:v", "copy",
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-af", "volume="+audioVol,
			"-shortest",
			"output.mp4",
		)
	} else {
		origVol := formatFloat(float64(opts.OriginalVolume) / 100)
		args = append(args,
			"-filter_complex", "[0:a]volume="+origVol+"[a0];[1:a]volume="+audioVol+"[a1];[a0][a1]amix=inputs=2:duration=first[aout]",
			"-map", "0:v:0",
			"-map", "[aout]",
			"-c:v", "copy",
			"-shortest",
			"output.mp4",
		)
	}

	return &Plan{
		Files:        []File{sourceFile(input, 0), sourceFile(track, 1)},
		Passes:       []Pass{{Args: args}},
		Output:       "output.mp4",
		DownloadName: "with-music-" + utils.BaseName(video) + ".mp4",
		MimeType:     "video/mp4",
	}, nil
}
