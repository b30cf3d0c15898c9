package slicer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"runtime"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Format is an output image encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Ext is the file extension used for entries of this format.
func (f Format) Ext() string {
	if f == FormatPNG {
		return "png"
	}
	return "jpeg"
}

// EncodeOptions controls chunk encoding.
type EncodeOptions struct {
	Format  Format
	Quality int // jpeg only, 1..100. Default: 95.
	Width   int // downscale target, 0 keeps the raster width
	Workers int // default: GOMAXPROCS
}

func (o *EncodeOptions) defaults() {
	if o.Format == "" {
		o.Format = FormatJPEG
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 95
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
}

// Chunk is one encoded slice.
type Chunk struct {
	Index  int
	Width  int
	Height int
	Data   []byte
}

// EncodeAll encodes chunks in parallel and returns them in input order.
// The first failure cancels the remaining work; no partial result is
// returned.
func EncodeAll(ctx context.Context, imgs []*image.RGBA, opts EncodeOptions) ([]Chunk, error) {
	opts.defaults()

	out := make([]Chunk, len(imgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, img := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img := Resize(img, opts.Width)
			data, err := encode(img, opts)
			if err != nil {
				return fmt.Errorf("%w: chunk %d: %v", ErrEncode, i+1, err)
			}
			b := img.Bounds()
			out[i] = Chunk{Index: i, Width: b.Dx(), Height: b.Dy(), Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func encode(img image.Image, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch opts.Format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality})
	default:
		err = fmt.Errorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("empty output")
	}
	return buf.Bytes(), nil
}

// Decode reads a captured raster. JPEG, PNG and WebP are accepted.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("slicer: decode: empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("slicer: decode: %w", err)
	}
	return img, format, nil
}
