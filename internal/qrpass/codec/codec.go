// Package codec renders payloads into QR images and reads them back out of
// photographs.  It is pure: no files, no clocks.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEncoding means the payload does not fit the configured symbol.
	ErrEncoding = errors.New("payload exceeds QR capacity")
	// ErrNoPayload means no QR code could be located or read.  It is a
	// normal outcome, not a fault.
	ErrNoPayload = errors.New("no payload found")
	// ErrImageTooLarge is wrapped together with ErrNoPayload when an image
	// declares more pixels than the codec will decode.
	ErrImageTooLarge = errors.New("image exceeds pixel limit")
)

// DefaultMaxPixels bounds decoded images to roughly a 16 MP camera frame.
const DefaultMaxPixels = 16_000_000

// Level is the QR error-correction level.
type Level string

const (
	LevelLow     Level = "L"
	LevelMedium  Level = "M"
	LevelHigh    Level = "Q"
	LevelHighest Level = "H"
)

type Options struct {
	// Size is the PNG edge length in pixels.
	Size int
	// Level defaults to LevelLow.
	Level Level
	// Version forces a symbol version (1-40).  0 picks the smallest that fits.
	Version int
	// MaxPixels caps width*height of images handed to Decode.  Defaults to
	// DefaultMaxPixels.
	MaxPixels int64
}

type Codec struct {
	size      int
	level     qrcode.RecoveryLevel
	version   int
	maxPixels int64
}

func New(opt Options) *Codec {
	size := opt.Size
	if size <= 0 {
		size = 290 // 29 modules (v1 + 4-module quiet zone) at 10px
	}
	maxPixels := opt.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Codec{
		size:      size,
		level:     recoveryLevel(opt.Level),
		version:   opt.Version,
		maxPixels: maxPixels,
	}
}

// Encode renders payload as a PNG.
func (c *Codec) Encode(payload string) ([]byte, error) {
	var (
		q   *qrcode.QRCode
		err error
	)
	if c.version > 0 {
		q, err = qrcode.NewWithForcedVersion(payload, c.version, c.level)
	} else {
		q, err = qrcode.New(payload, c.level)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	png, err := q.PNG(c.size)
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	return png, nil
}

// Decode returns the text of the QR code found in r.  Any image format
// registered with the image package is accepted.  Unreadable images and
// images without a code both yield ErrNoPayload, as do images whose header
// declares more than MaxPixels.
func (c *Codec) Decode(r io.Reader) (string, error) {
	// The header is read through a tee so the full decode can replay it.
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return "", fmt.Errorf("%w: decode image header: %v", ErrNoPayload, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > c.maxPixels {
		return "", fmt.Errorf("%w: %w: %dx%d", ErrNoPayload, ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", ErrNoPayload, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: binarize: %v", ErrNoPayload, err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPayload, err)
	}
	return res.GetText(), nil
}

// DecodeBytes is Decode over an in-memory image.
func (c *Codec) DecodeBytes(b []byte) (string, error) {
	return c.Decode(bytes.NewReader(b))
}

func recoveryLevel(l Level) qrcode.RecoveryLevel {
	switch l {
	case LevelMedium:
		return qrcode.Medium
	case LevelHigh:
		return qrcode.High
	case LevelHighest:
		return qrcode.Highest
	default:
		return qrcode.Low
	}
}
