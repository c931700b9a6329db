package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/HsiangNianian/cumo/internal/protocol"
)

// CaptureScreen returns the browser canvas as png bytes, unchanged.
func (v *Viewer) CaptureScreen(ctx context.Context) ([]byte, error) {
	ret, err := v.call(ctx, &protocol.ServerCommand{CaptureScreen: ptr(true)})
	if err != nil {
		return nil, err
	}
	if ret.Image == nil {
		return nil, fmt.Errorf("capture_screen: %w: got %s", ErrUnexpectedResponse, ret.Kind())
	}
	return ret.Image.Data, nil
}

// CaptureScreenImage is CaptureScreen decoded into an image.
func (v *Viewer) CaptureScreenImage(ctx context.Context) (image.Image, error) {
	data, err := v.CaptureScreen(ctx)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screen capture failed: %w", err)
	}
	return img, nil
}
