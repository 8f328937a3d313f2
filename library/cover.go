package library

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"ebr/config"
	"ebr/epub"
)

// maxRasterDim caps SVG rasterization so a cover with an enormous viewBox
// cannot allocate gigabytes for its pixel buffer.
const maxRasterDim = 4096

const defaultSVGSize = 1024

// Thumbnail converts a cover image into a JPEG thumbnail bounded by the
// configured size. SVG covers are rasterized first. A cover that cannot be
// decoded yields nil, books are cached without a thumbnail rather than
// rejected.
func Thumbnail(cover *epub.CoverImage, cfg config.CoverConfig, log *zap.Logger) []byte {
	if cover == nil || len(cover.Data) == 0 {
		return nil
	}

	var (
		img image.Image
		err error
	)
	if strings.Contains(cover.MediaType, "svg") {
		img, err = rasterizeSVG(cover.Data, cfg.Width, cfg.Height)
	} else {
		img, _, err = image.Decode(bytes.NewReader(cover.Data))
	}
	if err != nil {
		log.Warn("Unable to decode cover image, caching without thumbnail",
			zap.String("path", cover.Path), zap.String("type", cover.MediaType), zap.Error(err))
		return nil
	}

	if b := img.Bounds(); b.Dx() > cfg.Width || b.Dy() > cfg.Height {
		img = imaging.Fit(img, cfg.Width, cfg.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		log.Warn("Unable to encode cover thumbnail",
			zap.String("path", cover.Path), zap.Error(err))
		return nil
	}
	return buf.Bytes()
}

// rasterizeSVG renders SVG data onto a white background, fitting the
// intrinsic viewBox into the target box while keeping aspect ratio.
func rasterizeSVG(data []byte, targetW, targetH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	intrW := int(math.Ceil(icon.ViewBox.W))
	intrH := int(math.Ceil(icon.ViewBox.H))
	if intrW <= 0 {
		intrW = defaultSVGSize
	}
	if intrH <= 0 {
		intrH = defaultSVGSize
	}

	scale := math.Min(float64(targetW)/float64(intrW), float64(targetH)/float64(intrH))
	if scale <= 0 {
		scale = 1
	}
	w := max(int(math.Round(float64(intrW)*scale)), 1)
	h := max(int(math.Round(float64(intrH)*scale)), 1)
	if w > maxRasterDim || h > maxRasterDim {
		s := math.Min(float64(maxRasterDim)/float64(w), float64(maxRasterDim)/float64(h))
		w = max(int(math.Round(float64(w)*s)), 1)
		h = max(int(math.Round(float64(h)*s)), 1)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return dst, nil
}
