// Package pairing renders WhatsApp pairing challenges as scannable QR images.
package pairing

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// ErrEmptyChallenge is returned when there is nothing to encode.
var ErrEmptyChallenge = errors.New("empty pairing challenge")

// RenderError is returned when a pairing challenge cannot be turned into an
// image. The pairing attempt it belongs to cannot continue.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render pairing challenge: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Image is a rendered pairing challenge.
type Image struct {
	// DataURL is a PNG encoded as a data: URL, ready for an <img> tag.
	DataURL string
	// Terminal is a compact block-character rendering for logs and CLIs.
	Terminal string
}

// Presenter converts raw pairing challenges into images.
type Presenter struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewPresenter returns a presenter producing 256px medium-recovery codes.
func NewPresenter() *Presenter {
	return &Presenter{Size: defaultSize, Level: qrcode.Medium}
}

// Present encodes raw as a QR code.
func (p *Presenter) Present(raw string) (Image, error) {
	if raw == "" {
		return Image{}, &RenderError{Err: ErrEmptyChallenge}
	}
	size := p.Size
	if size <= 0 {
		size = defaultSize
	}

	qr, err := qrcode.New(raw, p.Level)
	if err != nil {
		return Image{}, &RenderError{Err: err}
	}
	png, err := qr.PNG(size)
	if err != nil {
		return Image{}, &RenderError{Err: err}
	}

	return Image{
		DataURL:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Terminal: qr.ToSmallString(false),
	}, nil
}
