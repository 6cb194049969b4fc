package server

import (
	"errors"
	"net/http"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotReady):
		return http.StatusServiceUnavailable
	}
	switch protocol.KindOf(err) {
	case protocol.KindTransport:
		return http.StatusServiceUnavailable
	case protocol.KindUnsupportedFirmware:
		return http.StatusConflict
	case protocol.KindProtocol, protocol.KindDevice, protocol.KindCalibrationWrite:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the error text and its structured kind.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  protocol.KindOf(err).String(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  protocol.KindUnknown.String(),
	})
}
