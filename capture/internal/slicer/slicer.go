// Package slicer crops a tall page raster and partitions it into ordered
// chunks sharing one aspect ratio, the way a carousel post expects them.
//
// All arithmetic here is in raster pixels. Callers convert document offsets
// to raster offsets before slicing.
package slicer

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

var (
	// ErrInvalidRatio is returned for non-positive ratios or ratios that
	// yield a chunk shorter than one pixel.
	ErrInvalidRatio = errors.New("slicer: invalid aspect ratio")

	// ErrEmptySelection is returned when nothing is left below the offset.
	ErrEmptySelection = errors.New("slicer: empty selection")

	// ErrEncode is returned when a chunk cannot be encoded.
	ErrEncode = errors.New("slicer: encode failed")
)

// AspectRatio is a width:height proportion.
type AspectRatio struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Presets are the ratios offered to users.
var Presets = map[string]AspectRatio{
	"1:1":    {Width: 1, Height: 1},
	"4:5":    {Width: 4, Height: 5},
	"1.91:1": {Width: 1.91, Height: 1},
	"9:16":   {Width: 9, Height: 16},
}

// PresetNames lists Presets in display order.
var PresetNames = []string{"1:1", "4:5", "1.91:1", "9:16"}

// Valid reports whether both sides are finite and positive.
func (r AspectRatio) Valid() bool {
	return finitePositive(r.Width) && finitePositive(r.Height)
}

func (r AspectRatio) String() string {
	return strconv.FormatFloat(r.Width, 'f', -1, 64) + ":" + strconv.FormatFloat(r.Height, 'f', -1, 64)
}

// ParseAspectRatio accepts a preset name or any "W:H" pair of positive numbers.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if r, ok := Presets[s]; ok {
		return r, nil
	}
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return AspectRatio{}, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	fw, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
	fh, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
	r := AspectRatio{Width: fw, Height: fh}
	if err1 != nil || err2 != nil || !r.Valid() {
		return AspectRatio{}, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	return r, nil
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Crop clamps offset into [0, imageHeight] and returns it together with the
// effective height: min(floor((H-offset)*percentage/100), H-offset).
func Crop(imageHeight, offset, percentage int) (start, effective int) {
	start = min(max(offset, 0), max(imageHeight, 0))
	remaining := max(imageHeight, 0) - start
	effective = min(remaining*percentage/100, remaining)
	return start, max(effective, 0)
}

// Plan describes how an effective height is partitioned.
type Plan struct {
	ChunkWidth  int
	ChunkHeight int
	Heights     []int
}

// Count is the number of chunks.
func (p Plan) Count() int { return len(p.Heights) }

// NewPlan partitions effective rows of the given width into chunks of
// floor(width*ratio.Height/ratio.Width) rows. Every chunk but the last is
// exactly ChunkHeight tall; the last holds the remainder.
func NewPlan(width, effective int, r AspectRatio) (Plan, error) {
	if !r.Valid() {
		return Plan{}, fmt.Errorf("%w: %s", ErrInvalidRatio, r)
	}
	if width <= 0 {
		return Plan{}, fmt.Errorf("%w: chunk width %d", ErrInvalidRatio, width)
	}
	chunkHeight := int(math.Floor(float64(width) * r.Height / r.Width))
	if chunkHeight < 1 {
		return Plan{}, fmt.Errorf("%w: chunk height %d for width %d", ErrInvalidRatio, chunkHeight, width)
	}
	if effective <= 0 {
		return Plan{}, ErrEmptySelection
	}

	count := (effective + chunkHeight - 1) / chunkHeight
	heights := make([]int, count)
	for i := range heights {
		heights[i] = chunkHeight
	}
	heights[count-1] = effective - chunkHeight*(count-1)

	return Plan{ChunkWidth: width, ChunkHeight: chunkHeight, Heights: heights}, nil
}

// Slice crops src at offset/percentage and copies each planned chunk onto
// its own canvas of exactly ChunkWidth x Heights[i].
func Slice(src image.Image, offset, percentage int, r AspectRatio) ([]*image.RGBA, Plan, error) {
	b := src.Bounds()
	start, effective := Crop(b.Dy(), offset, percentage)

	plan, err := NewPlan(b.Dx(), effective, r)
	if err != nil {
		return nil, Plan{}, err
	}

	chunks := make([]*image.RGBA, plan.Count())
	for i, h := range plan.Heights {
		top := b.Min.Y + start + plan.ChunkHeight*i
		dst := image.NewRGBA(image.Rect(0, 0, plan.ChunkWidth, h))
		draw.Copy(dst, image.Point{}, src, image.Rect(b.Min.X, top, b.Max.X, top+h), draw.Src, nil)
		chunks[i] = dst
	}
	return chunks, plan, nil
}

// Resize scales img to the given width keeping its proportions. A width
// of zero or equal to the current width returns img unchanged.
func Resize(img *image.RGBA, width int) *image.RGBA {
	b := img.Bounds()
	if width <= 0 || width == b.Dx() || b.Dx() == 0 {
		return img
	}
	height := max(int(math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))), 1)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
