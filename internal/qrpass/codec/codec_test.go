package codec_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/codec"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := codec.New(codec.Options{})

	for _, payload := range []string{
		"Ab3$kL9!mN2#",
		`q"<>|?*\/:x_Z`,
		"0123456789ab",
		strings.Repeat("z", 120),
	} {
		img, err := c.Encode(payload)
		require.NoError(t, err, payload)

		got, err := c.DecodeBytes(img)
		require.NoError(t, err, payload)
		assert.Equal(t, payload, got)
	}
}

func TestCodec_RoundTripThroughJPEG(t *testing.T) {
	c := codec.New(codec.Options{Size: 400})

	pngBytes, err := c.Encode("Ab3$kL9!mN2#")
	require.NoError(t, err)

	// A camera upload is usually lossy and embedded in a larger frame.
	src, err := png.Decode(bytes.NewReader(pngBytes))
	require.NoError(t, err)
	frame := image.NewRGBA(image.Rect(0, 0, 800, 600))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(frame, src.Bounds().Add(image.Pt(150, 80)), src, image.Point{}, draw.Src)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 90}))

	got, err := c.DecodeBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Ab3$kL9!mN2#", got)
}

func TestCodec_Encode_TooLarge(t *testing.T) {
	_, err := codec.New(codec.Options{}).Encode(strings.Repeat("x", 4000))
	assert.ErrorIs(t, err, codec.ErrEncoding)
}

func TestCodec_Encode_ForcedVersionCapacity(t *testing.T) {
	c := codec.New(codec.Options{Version: 1, Level: codec.LevelLow})

	_, err := c.Encode("Ab3$kL9!mN2#")
	require.NoError(t, err, "12 bytes fit a version 1 symbol")

	_, err = c.Encode(strings.Repeat("#", 40))
	assert.ErrorIs(t, err, codec.ErrEncoding)
}

func TestCodec_Decode_BlankImage(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 200, 200))
	draw.Draw(blank, blank.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	_, err := codec.New(codec.Options{}).DecodeBytes(buf.Bytes())
	assert.ErrorIs(t, err, codec.ErrNoPayload)
}

func TestCodec_Decode_NotAnImage(t *testing.T) {
	_, err := codec.New(codec.Options{}).DecodeBytes([]byte("definitely not a picture"))
	assert.ErrorIs(t, err, codec.ErrNoPayload)
}

func TestCodec_Decode_Deterministic(t *testing.T) {
	c := codec.New(codec.Options{})
	img, err := c.Encode("same-every-time")
	require.NoError(t, err)

	first, err := c.DecodeBytes(img)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := c.DecodeBytes(img)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// declaredPNG returns a valid 1x1 PNG whose header claims w x h pixels.
func declaredPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	require.Equal(t, "IHDR", string(b[12:16]))
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestCodec_Decode_RejectsOversizedCanvas(t *testing.T) {
	_, err := codec.New(codec.Options{}).DecodeBytes(declaredPNG(t, 20000, 20000))
	assert.ErrorIs(t, err, codec.ErrNoPayload)
	assert.ErrorIs(t, err, codec.ErrImageTooLarge)
}

func TestCodec_Decode_MaxPixels(t *testing.T) {
	img, err := codec.New(codec.Options{Size: 290}).Encode("Ab3$kL9!mN2#")
	require.NoError(t, err)

	got, err := codec.New(codec.Options{MaxPixels: 290 * 290}).DecodeBytes(img)
	require.NoError(t, err, "an image exactly at the limit is decoded")
	assert.Equal(t, "Ab3$kL9!mN2#", got)

	_, err = codec.New(codec.Options{MaxPixels: 290*290 - 1}).DecodeBytes(img)
	assert.ErrorIs(t, err, codec.ErrImageTooLarge)
}
