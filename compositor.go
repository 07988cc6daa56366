package kpata

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/marcdevi/kpata/model"
)

// Template layouts. They share the same overlay elements and differ only in
// where each element is anchored.
const (
	LayoutA = "A" // price bottom-left, handle bottom-right, badge top-left
	LayoutB = "B" // price top-right, handle bottom-center, badge top-left
	LayoutC = "C" // bottom banner with price and handle, badge top-right
)

// Overlay is the text layered onto a generated image before export.
type Overlay struct {
	PriceText string
	Handle    string
	Badge     string
}

// OverlayFromMessage derives the overlay from a work message. A zero price
// means no price label.
func OverlayFromMessage(message *model.WorkMessage, currencySuffix string) Overlay {
	ov := Overlay{Handle: message.Handle, Badge: message.Badge}
	if message.Price > 0 {
		ov.PriceText = FormatPrice(message.Price, currencySuffix)
	}
	return ov
}

// FormatPrice renders an amount with space-separated thousands groups and
// the currency suffix, e.g. 1250000 -> "1 250 000 so'm".
func FormatPrice(amount int64, suffix string) string {
	digits := strconv.FormatInt(amount, 10)
	negative := false
	if digits[0] == '-' {
		negative = true
		digits = digits[1:]
	}

	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, d)
	}
	formatted := string(out)
	if negative {
		formatted = "-" + formatted
	}
	if suffix != "" {
		formatted = fmt.Sprintf("%s %s", formatted, suffix)
	}
	return formatted
}

// Compose scales and center-crops a generated image to the target dimensions,
// then layers the overlay according to the template layout and returns the
// result as JPEG. Anchors and margins are computed from the target canvas, so
// a label placed at an edge survives every export format.
func Compose(source []byte, layout string, ov Overlay, width, height int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode generated image")
	}

	canvas := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	bounds := canvas.Bounds()

	if ov.PriceText != "" {
		canvas = pasteLabel(canvas, renderLabel(ov.PriceText, color.White, color.RGBA{20, 20, 20, 230}, bounds.Dx()), priceAnchor(layout), bounds)
	}
	if ov.Handle != "" {
		canvas = pasteLabel(canvas, renderLabel(ov.Handle, color.White, color.RGBA{20, 20, 20, 180}, bounds.Dx()), handleAnchor(layout), bounds)
	}
	if ov.Badge != "" {
		canvas = pasteLabel(canvas, renderLabel(ov.Badge, color.White, color.RGBA{200, 40, 40, 255}, bounds.Dx()), badgeAnchor(layout), bounds)
	}

	return encodeJPEG(canvas)
}

// Thumbnail produces a square preview of the given edge size.
func Thumbnail(source []byte, size int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image for thumbnail")
	}
	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	return encodeJPEG(thumb)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, errors.Wrap(err, "failed to encode jpeg")
	}
	return buf.Bytes(), nil
}

// anchor names a corner or edge of the canvas with a relative margin.
type anchor int

const (
	anchorTopLeft anchor = iota
	anchorTopRight
	anchorBottomLeft
	anchorBottomRight
	anchorBottomCenter
)

func priceAnchor(layout string) anchor {
	switch layout {
	case LayoutB:
		return anchorTopRight
	case LayoutC:
		return anchorBottomCenter
	default:
		return anchorBottomLeft
	}
}

func handleAnchor(layout string) anchor {
	switch layout {
	case LayoutB, LayoutC:
		return anchorBottomCenter
	default:
		return anchorBottomRight
	}
}

func badgeAnchor(layout string) anchor {
	if layout == LayoutC {
		return anchorTopRight
	}
	return anchorTopLeft
}

// renderLabel draws the text with the bitmap face on a padded background
// strip, then scales the strip relative to the canvas width so labels stay
// legible on large exports.
func renderLabel(text string, fg color.Color, bg color.Color, canvasWidth int) image.Image {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()

	const pad = 6
	w := textWidth + 2*pad
	h := face.Metrics().Height.Ceil() + 2*pad

	label := imaging.New(w, h, bg)
	drawer := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(pad, pad+face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)

	// Scale so the label height is roughly 1/20 of the canvas width.
	targetHeight := canvasWidth / 20
	if targetHeight <= h {
		return label
	}
	scale := float64(targetHeight) / float64(h)
	return imaging.Resize(label, int(float64(w)*scale), targetHeight, imaging.NearestNeighbor)
}

func pasteLabel(canvas *image.NRGBA, label image.Image, at anchor, bounds image.Rectangle) *image.NRGBA {
	margin := bounds.Dx() / 40
	lw := label.Bounds().Dx()
	lh := label.Bounds().Dy()

	var pos image.Point
	switch at {
	case anchorTopLeft:
		pos = image.Pt(margin, margin)
	case anchorTopRight:
		pos = image.Pt(bounds.Dx()-lw-margin, margin)
	case anchorBottomLeft:
		pos = image.Pt(margin, bounds.Dy()-lh-margin)
	case anchorBottomRight:
		pos = image.Pt(bounds.Dx()-lw-margin, bounds.Dy()-lh-margin)
	case anchorBottomCenter:
		pos = image.Pt((bounds.Dx()-lw)/2, bounds.Dy()-lh-margin)
	}

	return imaging.Overlay(canvas, label, pos, 1.0)
}
