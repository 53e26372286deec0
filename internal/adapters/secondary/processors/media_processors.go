package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/media"
)

var (
	acceptVideo = []string{"video/"}
	acceptImage = []string{"image/"}
	acceptGif   = []string{"image/gif"}
)

// FFmpegTransformer implements the Transformer port for video operations
// using an injected transcoding engine.
type FFmpegTransformer struct {
	engine *media.Engine
}

// NewFFmpegTransformer creates a new ffmpeg backed transformer
func NewFFmpegTransformer(engine *media.Engine) ports.Transformer {
	return &FFmpegTransformer{engine: engine}
}

func (t *FFmpegTransformer) Name() string {
	return "ffmpeg"
}

func (t *FFmpegTransformer) Operations() []domain.Operation {
	return []domain.Operation{
		operation(domain.OpVideoTrim, domain.CategoryVideo, "Cut a time window out of a video", 1, 1, acceptVideo, media.TrimOptions{}),
		operation(domain.OpVideoSpeed, domain.CategoryVideo, "Speed up or slow down a video", 1, 1, acceptVideo, media.DefaultSpeedOptions()),
		operation(domain.OpVideoConvert, domain.CategoryVideo, "Convert a video to another container", 1, 1, acceptVideo, media.DefaultConvertOptions()),
		operation(domain.OpVideoWatermark, domain.CategoryVideo, "Burn a text or image watermark into a video", 1, 2, []string{"video/", "image/"}, media.DefaultWatermarkOptions()),
		operation(domain.OpExtractAudio, domain.CategoryVideo, "Extract the audio track of a video", 1, 1, acceptVideo, media.DefaultExtractAudioOptions()),
		operation(domain.OpVideoToGif, domain.CategoryVideo, "Turn a video clip into an animated GIF", 1, 1, acceptVideo, media.DefaultGifOptions()),
		operation(domain.OpGifToVideo, domain.CategoryVideo, "Turn an animated GIF into a video", 1, 1, acceptGif, media.DefaultGifToVideoOptions()),
		operation(domain.OpVideoMerge, domain.CategoryVideo, "Join videos end to end", 2, 20, acceptVideo, media.DefaultMergeOptions()),
		operation(domain.OpVideoAddMusic, domain.CategoryVideo, "Add a music track to a video", 2, 2, []string{"video/", "audio/"}, media.DefaultMusicOptions()),
	}
}

// BuildPlan turns a video request into its engine plan without running it.
func BuildPlan(req *domain.TransformRequest) (*media.Plan, error) {
	if len(req.Files) == 0 {
		return nil, domain.ErrNoFiles
	}
	names := lo.Map(req.Files, func(f domain.SourceFile, _ int) string { return f.Name })
	first := names[0]
	primary := media.Source{Name: req.Files[0].Name, MimeType: req.Files[0].MimeType}

	switch req.Operation {
	case domain.OpVideoTrim:
		opts := media.TrimOptions{}
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildTrim(first, opts)
	case domain.OpVideoSpeed:
		opts := media.DefaultSpeedOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildSpeed(first, opts)
	case domain.OpVideoConvert:
		opts := media.DefaultConvertOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildConvert(primary, opts)
	case domain.OpVideoWatermark:
		opts := media.DefaultWatermarkOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildWatermark(names, opts)
	case domain.OpExtractAudio:
		opts := media.DefaultExtractAudioOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildExtractAudio(first, opts)
	case domain.OpVideoToGif:
		opts := media.DefaultGifOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildGif(first, opts)
	case domain.OpGifToVideo:
		opts := media.DefaultGifToVideoOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildGifToVideo(primary, opts)
	case domain.OpVideoMerge:
		opts := media.DefaultMergeOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return media.BuildMerge(names, opts)
	case domain.OpVideoAddMusic:
		opts := media.DefaultMusicOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		if len(names) < 2 {
			return nil, fmt.Errorf("%w: a video and an audio file are required", media.ErrInvalidOptions)
		}
		return media.BuildAddMusic(names[0], names[1], opts)
	}
	return nil, domain.ErrOperationNotFound
}

// Transform builds the plan and runs it on the engine. Plans that fail to
// build never acquire the engine.
func (t *FFmpegTransformer) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	plan, err := BuildPlan(req)
	if err != nil {
		return nil, toAppError(req.Operation, err)
	}

	start := time.Now()
	inputs := lo.Map(req.Files, func(f domain.SourceFile, _ int) []byte { return f.Data })
	out, err := t.engine.Execute(ctx, plan, inputs, media.ProgressFunc(progress))
	if err != nil {
		return nil, toAppError(req.Operation, err)
	}

	return &domain.TransformResult{
		Operation: req.Operation,
		Artifacts: []domain.Artifact{artifactFrom(out)},
		Metadata: map[string]interface{}{
			"passes": len(plan.Passes),
		},
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}, nil
}

func artifactFrom(r *media.Result) domain.Artifact {
	return domain.Artifact{Name: r.Name, MimeType: r.MimeType, Size: r.Size(), Data: r.Data}
}

// ImageTransformer implements the Transformer port for image operations,
// decoding and encoding in process.
type ImageTransformer struct{}

// NewImageTransformer creates a new image transformer
func NewImageTransformer() ports.Transformer {
	return &ImageTransformer{}
}

func (t *ImageTransformer) Name() string {
	return "image"
}

func (t *ImageTransformer) Operations() []domain.Operation {
	return []domain.Operation{
		operation(domain.OpImageCompress, domain.CategoryImage, "Re-encode an image as JPEG at a chosen quality", 1, 1, acceptImage, media.DefaultCompressOptions()),
		operation(domain.OpImageResize, domain.CategoryImage, "Resize an image or fit it to a social media preset", 1, 1, acceptImage, media.DefaultResizeOptions()),
		operation(domain.OpImageCrop, domain.CategoryImage, "Crop a region given in percent of the image", 1, 1, acceptImage, media.DefaultCropOptions()),
		operation(domain.OpImageRotate, domain.CategoryImage, "Rotate and flip an image", 1, 1, acceptImage, media.DefaultRotateOptions()),
		operation(domain.OpImageConvert, domain.CategoryImage, "Convert an image to another format", 1, 1, acceptImage, media.DefaultImageConvertOptions()),
		operation(domain.OpImageWatermark, domain.CategoryImage, "Draw a text watermark onto an image", 1, 1, acceptImage, media.DefaultTextWatermarkOptions()),
	}
}

func (t *ImageTransformer) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	if len(req.Files) == 0 {
		return nil, toAppError(req.Operation, domain.ErrNoFiles)
	}
	start := time.Now()
	if progress != nil {
		progress(0)
	}

	out, err := t.apply(req.Operation, req.Files[0], req.Params)
	if err != nil {
		return nil, toAppError(req.Operation, err)
	}
	if progress != nil {
		progress(1)
	}

	return &domain.TransformResult{
		Operation:   req.Operation,
		Artifacts:   []domain.Artifact{artifactFrom(out)},
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
	}, nil
}

func (t *ImageTransformer) apply(kind domain.OperationKind, file domain.SourceFile, params map[string]interface{}) (*media.Result, error) {
	switch kind {
	case domain.OpImageCompress:
		opts := media.DefaultCompressOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.CompressImage(file.Name, file.Data, opts)
	case domain.OpImageResize:
		opts := media.DefaultResizeOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.ResizeImage(file.Name, file.Data, opts)
	case domain.OpImageCrop:
		opts := media.DefaultCropOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.CropImage(file.Name, file.Data, opts)
	case domain.OpImageRotate:
		opts := media.DefaultRotateOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.RotateImage(file.Name, file.Data, opts)
	case domain.OpImageConvert:
		opts := media.DefaultImageConvertOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.ConvertImage(file.Name, file.Data, opts)
	case domain.OpImageWatermark:
		opts := media.DefaultTextWatermarkOptions()
		if err := decodeParams(params, &opts); err != nil {
			return nil, err
		}
		return media.WatermarkImage(file.Name, file.Data, opts)
	}
	return nil, domain.ErrOperationNotFound
}
