package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/jdeng/goheif"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"asset-pipeline/config"
	"asset-pipeline/internal/domain/upload"
)

const heicJPEGQuality = 95

var ErrNoStrategyFits = errors.New("no compression strategy fits the size budget")

type strategy struct {
	dimension int
	quality   int
}

// strategies are tried in order, first against the target size and then against the
// fallback size. Dimensions above the configured maximum are clamped to it.
var strategies = []strategy{
	{192, 85}, {192, 75}, {192, 65}, {192, 55},
	{160, 75}, {160, 60},
	{128, 70}, {128, 50},
	{96, 60},
}

type Processor struct {
	cfg    config.Upload
	logger *zap.Logger
}

func NewProcessor(cfg config.Upload, logger *zap.Logger) *Processor {
	return &Processor{cfg: cfg, logger: logger}
}

func (p *Processor) Sniff(data []byte) string {
	return upload.NormalizeMIME(mimetype.Detect(data).String())
}

func (p *Processor) ConvertHEIC(ctx context.Context, img *upload.Image) (*upload.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := goheif.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode heic: %w", err)
	}

	var buf bytes.Buffer
	if err = imaging.Encode(&buf, decoded, imaging.JPEG, imaging.JPEGQuality(heicJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	b := decoded.Bounds()
	return &upload.Image{
		Data:     buf.Bytes(),
		MimeType: upload.MimeJPEG,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// Compress scales the image to fit the configured dimension and re-encodes it until it
// fits the target size, then the fallback size. SVG passes through untouched, as does
// anything already within the target. The result is never larger than the input.
func (p *Processor) Compress(ctx context.Context, img *upload.Image) (*upload.Image, error) {
	if upload.NormalizeMIME(img.MimeType) == upload.MimeSVG {
		return img, nil
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", img.MimeType, err)
	}
	bounds := src.Bounds()

	if int64(len(img.Data)) <= p.cfg.TargetBytes {
		return &upload.Image{Data: img.Data, MimeType: img.MimeType, Width: bounds.Dx(), Height: bounds.Dy()}, nil
	}

	opaque := isOpaque(src)
	for _, limit := range []int64{p.cfg.TargetBytes, p.cfg.FallbackBytes} {
		for _, s := range strategies {
			if err = ctx.Err(); err != nil {
				return nil, err
			}

			out, err := p.encode(src, s, opaque)
			if err != nil {
				return nil, err
			}
			if int64(len(out.Data)) > limit {
				continue
			}
			if len(out.Data) >= len(img.Data) {
				p.logger.Debug("re-encoding did not shrink image, keeping original",
					zap.Int("original_bytes", len(img.Data)),
					zap.Int("encoded_bytes", len(out.Data)),
				)
				return &upload.Image{Data: img.Data, MimeType: img.MimeType, Width: bounds.Dx(), Height: bounds.Dy()}, nil
			}
			return out, nil
		}
	}

	return nil, fmt.Errorf("%w: %d bytes over %d", ErrNoStrategyFits, len(img.Data), p.cfg.FallbackBytes)
}

func (p *Processor) encode(src image.Image, s strategy, opaque bool) (*upload.Image, error) {
	dim := s.dimension
	if p.cfg.MaxDimension > 0 && dim > p.cfg.MaxDimension {
		dim = p.cfg.MaxDimension
	}
	scaled := imaging.Fit(src, dim, dim, imaging.Lanczos)

	var (
		buf  bytes.Buffer
		err  error
		mime string
	)
	if opaque {
		mime = upload.MimeJPEG
		err = imaging.Encode(&buf, scaled, imaging.JPEG, imaging.JPEGQuality(s.quality))
	} else {
		mime = upload.MimePNG
		err = imaging.Encode(&buf, scaled, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", mime, err)
	}

	b := scaled.Bounds()
	return &upload.Image{Data: buf.Bytes(), MimeType: mime, Width: b.Dx(), Height: b.Dy()}, nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
