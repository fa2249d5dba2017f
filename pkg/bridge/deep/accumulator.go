package deep

import "github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"

// accumulator reassembles one assistant answer from a stream of events: text
// fragments concatenate into a single growing message, and the last
// continuation signal wins. It never inspects token contents.
type accumulator struct {
	text     []byte
	token    []byte
	complete bool
}

func (a *accumulator) apply(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventTextFragment:
		a.text = append(a.text, ev.Text...)
	case protocol.EventContinuationSignal:
		a.token = append(a.token[:0], ev.Token...)
	case protocol.EventTurnComplete:
		a.complete = true
	}
}

func (a *accumulator) message() string {
	return string(a.text)
}

func (a *accumulator) continuation() []byte {
	if len(a.token) == 0 {
		return nil
	}
	out := make([]byte, len(a.token))
	copy(out, a.token)
	return out
}
