package media

import (
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempoChainProduct(t *testing.T) {
	for s := 0.01; s <= 4.0+1e-9; s += 0.01 {
		stages := TempoChain(s)
		product := 1.0
		for _, stage := range stages {
			assert.GreaterOrEqual(t, stage, 0.5-1e-12, "speed %v", s)
			assert.LessOrEqual(t, stage, 2.0+1e-12, "speed %v", s)
			product *= stage
		}
		assert.InDelta(t, 1.0, product/s, 1e-6, "speed %v", s)
	}
}

func TestTempoChainStages(t *testing.T) {
	tests := []struct {
		speed float64
		want  []float64
	}{
		{4, []float64{2, 2}},
		{3, []float64{2, 1.5}},
		{0.25, []float64{0.5, 0.5}},
		{0.75, []float64{0.75}},
		{1.5, []float64{1.5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TempoChain(tt.speed), "speed %v", tt.speed)
	}
}

func TestBuildSpeed(t *testing.T) {
	t.Run("identity speed is refused", func(t *testing.T) {
		_, err := BuildSpeed("clip.mp4", SpeedOptions{Speed: 1, PreserveAudio: true})
		assert.ErrorIs(t, err, ErrIdentityTransform)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := BuildSpeed("clip.mp4", SpeedOptions{Speed: 5})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("keeps audio with a tempo chain", func(t *testing.T) {
		plan, err := BuildSpeed("clip.mov", SpeedOptions{Speed: 4, PreserveAudio: true})
		require.NoError(t, err)

		assert.Equal(t, []string{
			"-i", "input.mov",
			"-filter_complex", "[0:v]setpts=0.25*PTS[v];[0:a]atempo=2.0,atempo=2.0[a]",
			"-map", "[v]",
			"-map", "[a]",
			"output.mp4",
		}, plan.Passes[0].Args)
		assert.Equal(t, "4x-clip.mp4", plan.DownloadName)
		assert.Equal(t, "video/mp4", plan.MimeType)
		assert.Equal(t, []File{{Name: "input.mov", Source: 0}}, plan.Files)
	})

	t.Run("drops audio", func(t *testing.T) {
		plan, err := BuildSpeed("clip.mp4", SpeedOptions{Speed: 0.5})
		require.NoError(t, err)
		assert.Equal(t, []string{"-i", "input.mp4", "-filter:v", "setpts=2*PTS", "-an", "output.mp4"}, plan.Passes[0].Args)
		assert.Equal(t, "0.5x-clip.mp4", plan.DownloadName)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := BuildSpeed("clip.mp4", SpeedOptions{Speed: 0.3, PreserveAudio: true})
		require.NoError(t, err)
		b, err := BuildSpeed("clip.mp4", SpeedOptions{Speed: 0.3, PreserveAudio: true})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestBuildTrim(t *testing.T) {
	plan, err := BuildTrim("holiday.webm", TrimOptions{Start: 1.5, End: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "input.webm", "-ss", "1.5", "-t", "2.5", "-c", "copy", "output.mp4"}, plan.Passes[0].Args)
	assert.Equal(t, 2.5, plan.Passes[0].Duration)
	assert.Equal(t, "trimmed-holiday.mp4", plan.DownloadName)

	_, err = BuildTrim("holiday.webm", TrimOptions{Start: 4, End: 4})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestBuildConvert(t *testing.T) {
	t.Run("same format is refused", func(t *testing.T) {
		_, err := BuildConvert(Source{Name: "clip.mp4"}, ConvertOptions{Format: "mp4", Quality: "high"})
		assert.ErrorIs(t, err, ErrSameFormat)

		_, err = BuildConvert(Source{Name: "clip.MOV"}, ConvertOptions{Format: "mov", Quality: "high"})
		assert.ErrorIs(t, err, ErrSameFormat)
	})

	t.Run("content type wins over the file name", func(t *testing.T) {
		_, err := BuildConvert(Source{Name: "clip.bin", MimeType: "video/mp4"}, ConvertOptions{Format: "mp4", Quality: "high"})
		assert.ErrorIs(t, err, ErrSameFormat)

		plan, err := BuildConvert(Source{Name: "clip.mp4", MimeType: "video/webm"}, ConvertOptions{Format: "mp4", Quality: "high"})
		require.NoError(t, err)
		assert.Equal(t, "input.mp4", plan.Files[0].Name)
	})

	tests := []struct {
		format  string
		quality string
		codec   []string
		mime    string
	}{
		{"mp4", "high", []string{"-c:v", "libx264", "-crf", "18", "-preset", "medium", "-c:a", "aac", "-b:a", "128k"}, "video/mp4"},
		{"webm", "medium", []string{"-c:v", "libvpx-vp9", "-crf", "23", "-b:v", "0", "-c:a", "libopus", "-b:a", "128k"}, "video/webm"},
		{"avi", "low", []string{"-c:v", "libx264", "-crf", "28", "-preset", "medium", "-c:a", "mp3", "-b:a", "128k"}, "video/x-msvideo"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			plan, err := BuildConvert(Source{Name: "clip.mkv"}, ConvertOptions{Format: tt.format, Quality: tt.quality})
			require.NoError(t, err)

			want := append([]string{"-i", "input.mkv"}, tt.codec...)
			want = append(want, "-movflags", "+faststart", "output."+tt.format)
			assert.Equal(t, want, plan.Passes[0].Args)
			assert.Equal(t, tt.mime, plan.MimeType)
			assert.Equal(t, "clip."+tt.format, plan.DownloadName)
		})
	}
}

func TestBuildExtractAudio(t *testing.T) {
	plan, err := BuildExtractAudio("talk.mp4", ExtractAudioOptions{Format: "mp3", Bitrate: 320})
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "input.mp4", "-vn", "-c:a", "libmp3lame", "-b:a", "320k", "output.mp3"}, plan.Passes[0].Args)
	assert.Equal(t, "talk.mp3", plan.DownloadName)
	assert.Equal(t, "audio/mpeg", plan.MimeType)

	plan, err = BuildExtractAudio("talk.mp4", ExtractAudioOptions{Format: "wav", Bitrate: 128})
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "input.mp4", "-vn", "-c:a", "pcm_s16le", "output.wav"}, plan.Passes[0].Args)

	_, err = BuildExtractAudio("talk.mp4", ExtractAudioOptions{Format: "flac", Bitrate: 128})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestBuildGif(t *testing.T) {
	plan, err := BuildGif("clip.mp4", GifOptions{Start: 2, End: 5, FPS: 15, Width: 480})
	require.NoError(t, err)
	require.Len(t, plan.Passes, 2)

	assert.Equal(t, []string{
		"-i", "input.mp4", "-ss", "2", "-t", "3",
		"-vf", "fps=15,scale=480:-1:flags=lanczos,palettegen", "palette.png",
	}, plan.Passes[0].Args)
	assert.Equal(t, []string{
		"-i", "input.mp4", "-i", "palette.png", "-ss", "2", "-t", "3",
		"-lavfi", "fps=15,scale=480:-1:flags=lanczos[x];[x][1:v]paletteuse", "output.gif",
	}, plan.Passes[1].Args)
	assert.Equal(t, "clip.gif", plan.DownloadName)
	assert.Equal(t, "image/gif", plan.MimeType)
}

func TestBuildGifToVideo(t *testing.T) {
	plan, err := BuildGifToVideo(Source{Name: "dance.gif"}, GifToVideoOptions{Format: "mp4", Loops: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-stream_loop", "2", "-i", "input.gif",
		"-movflags", "faststart", "-pix_fmt", "yuv420p", "-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"output.mp4",
	}, plan.Passes[0].Args)
	assert.Equal(t, "dance.mp4", plan.DownloadName)

	_, err = BuildGifToVideo(Source{Name: "dance.png"}, GifToVideoOptions{Format: "mp4", Loops: 1})
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	plan, err = BuildGifToVideo(Source{Name: "upload", MimeType: "image/gif"}, GifToVideoOptions{Format: "webm", Loops: 1})
	require.NoError(t, err)
	assert.Equal(t, "upload.webm", plan.DownloadName)

	_, err = BuildGifToVideo(Source{Name: "dance.gif", MimeType: "image/png"}, GifToVideoOptions{Format: "mp4", Loops: 1})
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestBuildMerge(t *testing.T) {
	_, err := BuildMerge([]string{"a.mp4"}, MergeOptions{Format: "mp4"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	plan, err := BuildMerge([]string{"a.mp4", "b.mov"}, MergeOptions{Format: "mp4"})
	require.NoError(t, err)
	require.Len(t, plan.Files, 3)
	assert.Equal(t, "input0.mp4", plan.Files[0].Name)
	assert.Equal(t, 1, plan.Files[1].Source)
	assert.Equal(t, -1, plan.Files[2].Source)
	assert.Equal(t, "file 'input0.mp4'\nfile 'input1.mov'\n", string(plan.Files[2].Content))
	assert.Equal(t, []string{"-f", "concat", "-safe", "0", "-i", "concat.txt", "-c", "copy", "merged.mp4"}, plan.Passes[0].Args)
	assert.Equal(t, "merged-video.mp4", plan.DownloadName)

	plan, err = BuildMerge([]string{"a.mp4", "b.mp4"}, MergeOptions{Format: "webm", Reencode: true})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(plan.Passes[0].Args, " "), "-c:v libx264 -preset fast -crf 23")
	assert.Equal(t, "video/webm", plan.MimeType)
}

func TestBuildAddMusic(t *testing.T) {
	plan, err := BuildAddMusic("clip.mp4", "song.mp3", MusicOptions{ReplaceAudio: true, AudioVolume: 80})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "input.mp4", "-i", "audio.mp3",
		"-c:v", "copy", "-map", "0:v:0", "-map", "1:a:0", "-af", "volume=0.8", "-shortest", "output.mp4",
	}, plan.Passes[0].Args)
	assert.Equal(t, "with-music-clip.mp4", plan.DownloadName)

	plan, err = BuildAddMusic("clip.mp4", "song.mp3", MusicOptions{AudioVolume: 100, OriginalVolume: 50})
	require.NoError(t, err)
	assert.Contains(t, plan.Passes[0].Args, "[0:a]volume=0.5[a0];[1:a]volume=1[a1];[a0][a1]amix=inputs=2:duration=first[aout]")
}

func TestAnchorExpr(t *testing.T) {
	tests := []struct {
		anchor Anchor
		x, y   string
	}{
		{TopLeft, "10", "10"},
		{TopCenter, "(w-text_w)/2", "10"},
		{TopRight, "w-text_w-10", "10"},
		{Center, "(w-text_w)/2", "(h-text_h)/2"},
		{BottomLeft, "10", "h-text_h-10"},
		{BottomCenter, "(w-text_w)/2", "h-text_h-10"},
		{BottomRight, "w-text_w-10", "h-text_h-10"},
	}
	for _, tt := range tests {
		t.Run(string(tt.anchor), func(t *testing.T) {
			x, y := AnchorExpr(tt.anchor, "w", "h", "text_w", "text_h", 10)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestBuildWatermark(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		opts := DefaultWatermarkOptions()
		opts.Text = "Copyright: it's 100%\nme"
		opts.Color = "#ff8800"
		opts.Opacity = 50
		opts.Position = TopLeft

		plan, err := BuildWatermark([]string{"clip.mp4"}, opts)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"-i", "input.mp4",
			"-vf", "drawtext=textfile=watermark.txt:expansion=none:fontsize=24:fontcolor=0xff8800@0.5:x=10:y=10",
			"-c:a", "copy", "output.mp4",
		}, plan.Passes[0].Args)
		assert.Equal(t, "watermarked-clip.mp4", plan.DownloadName)

		require.Len(t, plan.Files, 2)
		assert.Equal(t, File{Name: "watermark.txt", Source: -1, Content: []byte("Copyright: it's 100% me")}, plan.Files[1])
	})

	t.Run("color alpha", func(t *testing.T) {
		opts := DefaultWatermarkOptions()
		opts.Color = "#ff000080"

		plan, err := BuildWatermark([]string{"clip.mp4"}, opts)
		require.NoError(t, err)
		assert.Contains(t, plan.Passes[0].Args[3], "fontcolor=0xff0000@0.4:")
	})

	t.Run("image", func(t *testing.T) {
		opts := DefaultWatermarkOptions()
		opts.Type = "image"
		opts.Opacity = 80
		opts.Scale = 25

		plan, err := BuildWatermark([]string{"clip.mp4", "logo.png"}, opts)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"-i", "input.mp4", "-i", "watermark.png",
			"-filter_complex", "[1:v]scale=iw*0.25:ih*0.25,format=rgba,colorchannelmixer=aa=0.8[wm];[0:v][wm]overlay=W-w-10:H-h-10",
			"-c:a", "copy", "output.mp4",
		}, plan.Passes[0].Args)
		assert.Len(t, plan.Files, 2)
	})

	t.Run("image without overlay", func(t *testing.T) {
		opts := DefaultWatermarkOptions()
		opts.Type = "image"
		_, err := BuildWatermark([]string{"clip.mp4"}, opts)
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
}

func TestParseHexColor(t *testing.T) {
	c := ParseHexColor("#0a0B0c")
	assert.Equal(t, uint8(0x0a), c.R)
	assert.Equal(t, uint8(0x0b), c.G)
	assert.Equal(t, uint8(0x0c), c.B)

	c = ParseHexColor("#f00")
	assert.Equal(t, uint8(0xff), c.R)
	assert.Equal(t, uint8(0), c.G)

	assert.Equal(t, uint8(0xff), c.A)

	assert.Equal(t, color.NRGBA{R: 0xff, A: 0x80}, ParseHexColor("#ff000080"))
	assert.Equal(t, color.NRGBA{G: 0xff, A: 0x88}, ParseHexColor("#0f08"))

	assert.Equal(t, uint8(0xff), ParseHexColor("nope").B)
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, ProgressPercent(-1))
	assert.Equal(t, 0, ProgressPercent(math.NaN()))
	assert.Equal(t, 42, ProgressPercent(0.42))
	assert.Equal(t, 100, ProgressPercent(1.3))
}
