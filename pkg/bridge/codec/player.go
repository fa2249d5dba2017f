package codec

import (
	"log/slog"
	"sync"
)

// Sink is the audio output a player schedules decoded samples into.
type Sink interface {
	Play(samples []float32) error
}

// Player decodes inbound base64 PCM chunks and schedules them for playback.
// Playback is best effort: one corrupt chunk is logged and skipped, it never
// ends the session.
type Player struct {
	cfg    AudioConfig
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	scheduled int64 // total samples handed to the sink
	skipped   int
}

// NewPlayer returns a player decoding chunks of the given format into sink.
func NewPlayer(cfg AudioConfig, sink Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{cfg: cfg, sink: sink, logger: logger}
}

// EnqueueBase64 decodes one inline-audio payload and hands it to the sink.
// Decode and sink failures are logged and counted, not propagated.
func (p *Player) EnqueueBase64(data string) {
	samples, err := DecodePCM16Base64(data)
	if err != nil {
		p.logger.Warn("skipping corrupt audio chunk", "error", err)
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		return
	}
	p.schedule(samples)
}

// EnqueuePCM schedules raw 16-bit little-endian PCM bytes for playback.
func (p *Player) EnqueuePCM(pcm []byte) {
	p.schedule(DecodePCM16(pcm))
}

func (p *Player) schedule(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if err := p.sink.Play(samples); err != nil {
		p.logger.Warn("audio sink rejected chunk", "error", err)
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.scheduled += int64(len(samples))
	p.mu.Unlock()
}

// ScheduledMs returns how much audio has been handed to the sink so far.
func (p *Player) ScheduledMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.SampleRate == 0 {
		return 0
	}
	return p.scheduled * 1000 / int64(p.cfg.SampleRate*max(p.cfg.Channels, 1))
}

// Skipped returns how many chunks were dropped as corrupt or unplayable.
func (p *Player) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}
