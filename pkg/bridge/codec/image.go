package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
)

const (
	// DefaultFrameWidth is the fixed target width video frames are downscaled
	// to before JPEG encoding, decoupled from the camera's native resolution.
	DefaultFrameWidth = 640

	// DefaultJPEGQuality keeps frames small enough for the sampled send rate.
	DefaultJPEGQuality = 70
)

// EncodeFrame downscales a captured video frame to targetWidth (preserving
// aspect ratio) and JPEG-encodes it into a wire-ready chunk. Encoding failures
// are returned to the caller, never swallowed.
func EncodeFrame(frame image.Image, targetWidth, quality int) (protocol.MediaChunk, error) {
	if frame == nil {
		return protocol.MediaChunk{}, fmt.Errorf("codec: nil frame")
	}
	if targetWidth <= 0 {
		targetWidth = DefaultFrameWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	bounds := frame.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return protocol.MediaChunk{}, fmt.Errorf("codec: empty frame %dx%d", bounds.Dx(), bounds.Dy())
	}

	scaled := frame
	if bounds.Dx() > targetWidth {
		scaled = downscale(frame, targetWidth)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return protocol.MediaChunk{}, fmt.Errorf("codec: jpeg encode: %w", err)
	}
	return protocol.NewMediaChunk("image/jpeg", buf.Bytes()), nil
}

// downscale is a nearest-neighbor resize. Frames are sampled at a low fixed
// rate, so speed matters more than resampling quality here.
func downscale(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	ratio := float64(targetWidth) / float64(bounds.Dx())
	targetHeight := int(float64(bounds.Dy()) * ratio)
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	for y := 0; y < targetHeight; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/targetHeight
		for x := 0; x < targetWidth; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/targetWidth
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
