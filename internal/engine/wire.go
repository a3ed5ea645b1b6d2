package engine

import (
	"fmt"
	"image"

	"github.com/fxamacker/cbor/v2"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
)

// Message types on the remote segmentation websocket. Every message is one
// binary websocket frame holding a CBOR map.
const (
	MsgHello = "hello"
	MsgFrame = "frame"
	MsgMask  = "mask"
)

// Hello is sent once after connecting.
type Hello struct {
	Type           string `cbor:"type"`
	ModelSelection int    `cbor:"model_selection"`
	SelfieMode     bool   `cbor:"selfie_mode"`
}

// FrameRequest carries one frame as tightly packed RGBA rows.
type FrameRequest struct {
	Type   string `cbor:"type"`
	Seq    uint64 `cbor:"seq"`
	Width  int    `cbor:"width"`
	Height int    `cbor:"height"`
	Pix    []byte `cbor:"pix"`
}

// MaskResponse carries the single-channel confidence mask for a frame, or
// an error when segmentation failed.
type MaskResponse struct {
	Type   string `cbor:"type"`
	Seq    uint64 `cbor:"seq"`
	Width  int    `cbor:"width"`
	Height int    `cbor:"height"`
	Mask   []byte `cbor:"mask,omitempty"`
	Error  string `cbor:"error,omitempty"`
}

// EncodeFrame packs f into a FrameRequest.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	size := f.Size()
	pix := f.Image.Pix
	if f.Image.Stride != size.X*4 || f.Image.Rect.Min != (image.Point{}) {
		pix = make([]byte, 0, size.X*size.Y*4)
		for y := 0; y < size.Y; y++ {
			o := f.Image.PixOffset(f.Image.Rect.Min.X, f.Image.Rect.Min.Y+y)
			pix = append(pix, f.Image.Pix[o:o+size.X*4]...)
		}
	}
	return cbor.Marshal(FrameRequest{
		Type:   MsgFrame,
		Seq:    f.Seq,
		Width:  size.X,
		Height: size.Y,
		Pix:    pix,
	})
}

// DecodeMask unpacks a MaskResponse. A response reporting an error yields
// a nil mask and that error.
func DecodeMask(data []byte) (*frame.Mask, uint64, error) {
	var resp MaskResponse
	if err := cbor.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("failed to decode mask response: %w", err)
	}
	if resp.Type != MsgMask {
		return nil, resp.Seq, fmt.Errorf("unexpected message type %q", resp.Type)
	}
	if resp.Error != "" {
		return nil, resp.Seq, fmt.Errorf("engine error: %s", resp.Error)
	}
	if resp.Width <= 0 || resp.Height <= 0 || len(resp.Mask) != resp.Width*resp.Height {
		return nil, resp.Seq, fmt.Errorf("malformed mask %dx%d with %d bytes", resp.Width, resp.Height, len(resp.Mask))
	}

	img := image.NewGray(image.Rect(0, 0, resp.Width, resp.Height))
	copy(img.Pix, resp.Mask)
	return frame.NewMask(img, resp.Seq), resp.Seq, nil
}
