package live

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/codec"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// FrameSource supplies the most recent video frame on demand. Grab errors
// mean the device is gone; sampling stops on the first one.
type FrameSource interface {
	Frame() (image.Image, error)
}

// DefaultFrameInterval is how often video frames are sampled and forwarded.
const DefaultFrameInterval = time.Second

type frameSampler struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (f *frameSampler) stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.done
}

// StartVideoSampling samples frames from source at the given interval,
// encodes each as a downscaled JPEG and forwards it upstream. Only one
// sampler may run per session; Disconnect stops it.
func (s *Session) StartVideoSampling(source FrameSource, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return bridge.NewInvalidRequestError("session is not connected", string(state))
	}
	if s.sampler != nil {
		s.mu.Unlock()
		return bridge.NewCaptureDeviceError("video sampling already active", "video")
	}
	sampler := &frameSampler{stopCh: make(chan struct{}), done: make(chan struct{})}
	s.sampler = sampler
	s.mu.Unlock()

	go s.sampleFrames(source, interval, sampler)
	return nil
}

// StopVideoSampling halts frame forwarding without disconnecting.
func (s *Session) StopVideoSampling() {
	s.mu.Lock()
	sampler := s.sampler
	s.sampler = nil
	s.mu.Unlock()
	if sampler != nil {
		sampler.stop()
	}
}

func (s *Session) sampleFrames(source FrameSource, interval time.Duration, sampler *frameSampler) {
	defer close(sampler.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sampler.stopCh:
			return
		case <-ticker.C:
		}

		frame, err := source.Frame()
		if err != nil {
			s.clearSampler(sampler)
			s.reportError(bridge.NewCaptureDeviceError("video frame grab failed", "video"))
			return
		}
		chunk, err := codec.EncodeFrame(frame, codec.DefaultFrameWidth, codec.DefaultJPEGQuality)
		if err != nil {
			s.logger.Warn("skipping unencodable video frame", "session_id", s.id, "error", err)
			continue
		}
		if err := s.SendMediaChunk(chunk); err != nil {
			s.clearSampler(sampler)
			// A send racing Disconnect is expected, not a session fault.
			if !errors.Is(err, transport.ErrClosed) && s.State() == StateConnected {
				s.reportError(err)
			}
			return
		}
	}
}

func (s *Session) clearSampler(sampler *frameSampler) {
	s.mu.Lock()
	if s.sampler == sampler {
		s.sampler = nil
	}
	s.mu.Unlock()
}

// AudioForwarder accumulates captured samples and forwards fixed-duration
// chunks upstream. Not safe for concurrent use; capture loops are single
// threaded.
type AudioForwarder struct {
	session *Session
	chunker *codec.Chunker
}

// NewAudioForwarder builds a forwarder chunking capture-format audio at the
// given interval.
func (s *Session) NewAudioForwarder(intervalMs int) *AudioForwarder {
	return &AudioForwarder{
		session: s,
		chunker: codec.NewChunker(codec.CaptureConfig(), intervalMs),
	}
}

// Write accepts captured samples, sending every completed chunk upstream.
func (f *AudioForwarder) Write(samples []float32) error {
	for _, chunk := range f.chunker.Write(samples) {
		if err := f.session.SendMediaChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Flush forwards any buffered partial chunk, typically at capture stop.
func (f *AudioForwarder) Flush() error {
	chunk, ok := f.chunker.Flush()
	if !ok {
		return nil
	}
	return f.session.SendMediaChunk(chunk)
}
