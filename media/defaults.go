package media

// Defaults mirror the initial control values of each tool.

func DefaultSpeedOptions() SpeedOptions {
	return SpeedOptions{Speed: 2, PreserveAudio: true}
}

func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{Format: "mp4", Quality: "medium"}
}

func DefaultExtractAudioOptions() ExtractAudioOptions {
	return ExtractAudioOptions{Format: "mp3", Bitrate: 192}
}

func DefaultGifOptions() GifOptions {
	return GifOptions{Start: 0, End: 10, FPS: 15, Width: 480}
}

func DefaultGifToVideoOptions() GifToVideoOptions {
	return GifToVideoOptions{Format: "mp4", Loops: 1}
}

func DefaultMergeOptions() MergeOptions {
	return MergeOptions{Format: "mp4"}
}

func DefaultMusicOptions() MusicOptions {
	return MusicOptions{ReplaceAudio: true, AudioVolume: 100, OriginalVolume: 50}
}

func DefaultWatermarkOptions() WatermarkOptions {
	return WatermarkOptions{
		Type:     "text",
		Text:     "Watermark",
		FontSize: 24,
		Color:    "#ffffff",
		Opacity:  80,
		Position: BottomRight,
		Scale:    20,
	}
}

func DefaultCompressOptions() CompressOptions {
	return CompressOptions{Quality: 80}
}

func DefaultResizeOptions() ResizeOptions {
	return ResizeOptions{MaintainRatio: true}
}

func DefaultCropOptions() CropOptions {
	return CropOptions{X: 0, Y: 0, Width: 100, Height: 100, Aspect: "free"}
}

func DefaultRotateOptions() RotateOptions {
	return RotateOptions{}
}

func DefaultImageConvertOptions() ImageConvertOptions {
	return ImageConvertOptions{Format: "webp"}
}

func DefaultTextWatermarkOptions() TextWatermarkOptions {
	return TextWatermarkOptions{
		Text:     "© Your Name",
		FontSize: 32,
		Opacity:  70,
		Position: BottomRight,
		Font:     "sans",
		Color:    "#ffffff",
	}
}
