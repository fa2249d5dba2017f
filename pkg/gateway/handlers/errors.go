package handlers

import (
	"errors"
	"net/http"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/mw"
)

// statusFor maps bridge error kinds onto HTTP status codes.
func statusFor(err *bridge.Error) int {
	switch err.Kind {
	case bridge.KindInvalidRequest:
		return http.StatusBadRequest
	case bridge.KindExchangeInFlight:
		return http.StatusConflict
	case bridge.KindTransportUnavailable, bridge.KindUpstream, bridge.KindProtocolDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var berr *bridge.Error
	if !errors.As(err, &berr) {
		berr = &bridge.Error{Kind: bridge.KindUpstream, Message: err.Error()}
	}
	mw.WriteJSONError(w, r, statusFor(berr), berr)
}
