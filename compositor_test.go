package kpata

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/model"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		amount int64
		suffix string
		want   string
	}{
		{1250000, "so'm", "1 250 000 so'm"},
		{999, "so'm", "999 so'm"},
		{1000, "so'm", "1 000 so'm"},
		{45000, "", "45 000"},
		{7, "so'm", "7 so'm"},
		{-12000, "so'm", "-12 000 so'm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.amount, tt.suffix))
	}
}

func TestComposeProducesTargetDimensions(t *testing.T) {
	source, err := PlaceholderImage("compose-test", 1024, 1024)
	require.NoError(t, err)

	ov := Overlay{PriceText: "45 000 so'm", Handle: "@mystore", Badge: "NEW"}
	for _, format := range model.DefaultExportFormats {
		out, err := Compose(source, LayoutA, ov, format.Width, format.Height)
		require.NoError(t, err)

		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, format.Width, img.Bounds().Dx())
		assert.Equal(t, format.Height, img.Bounds().Dy())
	}
}

func TestComposeEmptyOverlay(t *testing.T) {
	source, err := PlaceholderImage("compose-plain", 320, 320)
	require.NoError(t, err)

	out, err := Compose(source, "", Overlay{}, 320, 320)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

// A price anchored at an edge must land inside every export format, not get
// cropped away when a square generation becomes a vertical story rendition.
func TestComposeKeepsEdgeLabelsInEveryFormat(t *testing.T) {
	white := imaging.New(800, 800, color.White)
	source, err := encodeJPEG(white)
	require.NoError(t, err)

	out, err := Compose(source, LayoutA, Overlay{PriceText: "1 250 000 so'm"}, 1080, 1920)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	// Bottom-left margin area holds the dark price strip.
	margin := 1080 / 40
	labelHeight := 1080 / 20
	r, _, _, _ := img.At(margin+10, 1920-margin-labelHeight/2).RGBA()
	assert.Less(t, int(r>>8), 120, "price label missing from the story rendition")

	// Away from the anchors the canvas stays white.
	r, _, _, _ = img.At(540, 300).RGBA()
	assert.Greater(t, int(r>>8), 200)
}

func TestThumbnailDimensions(t *testing.T) {
	source, err := PlaceholderImage("thumb-test", 1024, 768)
	require.NoError(t, err)

	for _, size := range model.ThumbnailSizes {
		out, err := Thumbnail(source, size)
		require.NoError(t, err)

		img, err := imaging.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, size, img.Bounds().Dx())
		assert.Equal(t, size, img.Bounds().Dy())
	}
}

func TestOverlayFromMessage(t *testing.T) {
	ov := OverlayFromMessage(&model.WorkMessage{Price: 45000, Handle: "@shop", Badge: "SALE"}, "so'm")
	assert.Equal(t, "45 000 so'm", ov.PriceText)
	assert.Equal(t, "@shop", ov.Handle)
	assert.Equal(t, "SALE", ov.Badge)

	// Zero price means no price label.
	ov = OverlayFromMessage(&model.WorkMessage{Handle: "@shop"}, "so'm")
	assert.Empty(t, ov.PriceText)
}

func TestPlaceholderImageDeterministic(t *testing.T) {
	a, err := PlaceholderImage("job_x", 64, 64)
	require.NoError(t, err)
	b, err := PlaceholderImage("job_x", 64, 64)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := PlaceholderImage("job_y", 64, 64)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
