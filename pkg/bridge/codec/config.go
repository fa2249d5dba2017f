// Package codec converts between raw captured media and the wire-ready chunk
// shapes the live protocol expects: fixed-rate 16-bit PCM for audio,
// downscaled JPEG for video frames. The decode side turns inbound PCM chunks
// back into normalized float samples for playback.
package codec

// AudioConfig describes a PCM audio format.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// CaptureConfig is the fixed format for microphone capture sent upstream.
func CaptureConfig() AudioConfig {
	return AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// PlaybackConfig is the fixed format the model's inline audio arrives in.
func PlaybackConfig() AudioConfig {
	return AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the PCM byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BitsPerSample / 8
}

// DurationMs returns how many milliseconds of audio the byte count holds.
func (c AudioConfig) DurationMs(bytes int) int {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return bytes * 1000 / bps
}

// BytesForDurationMs returns the byte count for the given duration.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return c.BytesPerSecond() * ms / 1000
}

// SamplesForDurationMs returns the per-channel sample count for the duration.
func (c AudioConfig) SamplesForDurationMs(ms int) int {
	return c.SampleRate * c.Channels * ms / 1000
}

// MimeType returns the chunk mime type for this format.
func (c AudioConfig) MimeType() string {
	switch c.SampleRate {
	case 16000:
		return "audio/pcm;rate=16000"
	case 24000:
		return "audio/pcm;rate=24000"
	default:
		return "audio/pcm"
	}
}
