package processors

import (
	"context"
	"time"

	"github.com/samber/lo"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/pdftools"
)

var acceptPDF = []string{"application/pdf"}

type mergeOptions struct{}

// PDFTransformer implements the Transformer port for PDF operations
type PDFTransformer struct{}

// NewPDFTransformer creates a new PDF transformer
func NewPDFTransformer() ports.Transformer {
	return &PDFTransformer{}
}

func (t *PDFTransformer) Name() string {
	return "pdf"
}

func (t *PDFTransformer) Operations() []domain.Operation {
	return []domain.Operation{
		operation(domain.OpPDFMerge, domain.CategoryPDF, "Combine PDF documents in order", 2, 50, acceptPDF, mergeOptions{}),
		operation(domain.OpPDFSplit, domain.CategoryPDF, "Extract pages into single page documents", 1, 1, acceptPDF, pdftools.DefaultSplitOptions()),
		operation(domain.OpPDFCompress, domain.CategoryPDF, "Rewrite a PDF to reduce its size", 1, 1, acceptPDF, pdftools.DefaultCompressOptions()),
	}
}

func (t *PDFTransformer) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	if len(req.Files) == 0 {
		return nil, toAppError(req.Operation, domain.ErrNoFiles)
	}
	start := time.Now()
	if progress != nil {
		progress(0)
	}

	result := &domain.TransformResult{Operation: req.Operation, Metadata: map[string]interface{}{}}
	switch req.Operation {
	case domain.OpPDFMerge:
		files := lo.Map(req.Files, func(f domain.SourceFile, _ int) pdftools.File {
			return pdftools.File{Name: f.Name, MimeType: f.MimeType, Data: f.Data}
		})
		merged, err := pdftools.Merge(files)
		if err != nil {
			return nil, toAppError(req.Operation, err)
		}
		result.Artifacts = []domain.Artifact{pdfArtifact(*merged)}
		result.Metadata["documents"] = len(files)

	case domain.OpPDFSplit:
		opts := pdftools.DefaultSplitOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, toAppError(req.Operation, err)
		}
		pages, err := pdftools.Split(req.Files[0].Name, req.Files[0].Data, opts)
		if err != nil {
			return nil, toAppError(req.Operation, err)
		}
		result.Artifacts = lo.Map(pages, func(f pdftools.File, _ int) domain.Artifact { return pdfArtifact(f) })
		result.Metadata["pages"] = len(pages)

	case domain.OpPDFCompress:
		opts := pdftools.DefaultCompressOptions()
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, toAppError(req.Operation, err)
		}
		compressed, err := pdftools.Compress(req.Files[0].Name, req.Files[0].Data, opts)
		if err != nil {
			return nil, toAppError(req.Operation, err)
		}
		result.Artifacts = []domain.Artifact{pdfArtifact(compressed.File)}
		result.Metadata["original_size"] = compressed.OriginalSize
		result.Metadata["compressed_size"] = compressed.CompressedSize
		result.Metadata["saved_percent"] = compressed.SavedPercent

	default:
		return nil, toAppError(req.Operation, domain.ErrOperationNotFound)
	}

	if progress != nil {
		progress(1)
	}
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()
	return result, nil
}

func pdfArtifact(f pdftools.File) domain.Artifact {
	return domain.Artifact{Name: f.Name, MimeType: f.MimeType, Size: int64(len(f.Data)), Data: f.Data}
}
