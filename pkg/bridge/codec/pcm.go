package codec

import (
	"encoding/base64"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
)

// EncodePCM16 converts normalized float samples (-1.0..1.0) to 16-bit signed
// little-endian PCM. Out-of-range samples are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM to normalized float
// samples. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(pcm[i]) | int16(pcm[i+1])<<8
		samples[i/2] = float32(v) / 32768.0
	}
	return samples
}

// DecodePCM16Base64 decodes a base64 inline-audio payload to normalized float
// samples.
func DecodePCM16Base64(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, bridge.NewProtocolDecodeError("invalid base64 audio payload", err)
	}
	return DecodePCM16(raw), nil
}
