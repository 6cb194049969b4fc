package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/spectrum"
	"github.com/danmuck/radlink/internal/state"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type stateResponse struct {
	state.Snapshot
	RareFresh bool `json:"rare_fresh"`
}

type spectrumResponse struct {
	Accumulated bool                 `json:"accumulated"`
	Duration    float64              `json:"duration_s"`
	Calibration spectrum.Calibration `json:"calibration"`
	Total       uint64               `json:"total"`
	Counts      []uint32             `json:"counts"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"device":  s.sess.Identity(),
			"state":   s.sess.Status().State,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/state", func(c *gin.Context) {
		snap := s.sess.Cache().Snapshot()
		c.JSON(http.StatusOK, stateResponse{
			Snapshot:  snap,
			RareFresh: snap.RareFresh(RareMaxAge),
		})
	})

	r.GET("/events", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				badRequest(c, fmt.Errorf("invalid limit %q", raw))
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"events": s.sess.Cache().Events(limit)})
	})

	r.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  s.sess.Status(),
			"history": s.sess.History(),
		})
	})

	r.GET("/alarm-limits", s.getAlarmLimits)
	r.PUT("/alarm-limits", s.putAlarmLimits)
	r.GET("/calibration", s.getCalibration)
	r.PUT("/calibration", s.putCalibration)
	r.GET("/spectrum", s.getSpectrum)

	r.GET("/actions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actions": s.ActionNames()})
	})

	r.POST("/actions/:action", func(c *gin.Context) {
		name := c.Param("action")
		ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
		defer cancel()
		if err := s.ExecuteAction(ctx, name); err != nil {
			writeError(c, err)
			return
		}
		log.Info().Str("device", s.sess.Identity()).Str("action", name).Msg("device action executed")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": name})
	})
}

// refresh reports whether the caller asked to bypass the mirrored value.
func refresh(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("refresh"))
	return v
}

func (s *Server) getAlarmLimits(c *gin.Context) {
	snap := s.sess.Cache().Snapshot()
	if snap.AlarmLimits != nil && !refresh(c) {
		c.JSON(http.StatusOK, gin.H{"alarm_limits": snap.AlarmLimits, "stale": snap.ConfigStale})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
	defer cancel()
	var limits device.AlarmLimits
	err := s.sess.Apply(ctx, func(dev *device.Device) error {
		var err error
		limits, err = dev.AlarmLimits(ctx)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.sess.Cache().SetAlarmLimits(limits)
	c.JSON(http.StatusOK, gin.H{"alarm_limits": limits, "stale": false})
}

func (s *Server) putAlarmLimits(c *gin.Context) {
	var limits device.AlarmLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		badRequest(c, err)
		return
	}
	if err := limits.Validate(); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
	defer cancel()
	var stored device.AlarmLimits
	err := s.sess.Apply(ctx, func(dev *device.Device) error {
		if err := dev.SetAlarmLimits(ctx, limits); err != nil {
			return err
		}
		var err error
		stored, err = dev.AlarmLimits(ctx)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.sess.Cache().SetAlarmLimits(stored)
	c.JSON(http.StatusOK, gin.H{"alarm_limits": stored})
}

func (s *Server) getCalibration(c *gin.Context) {
	snap := s.sess.Cache().Snapshot()
	if snap.Calibration != nil && !refresh(c) {
		c.JSON(http.StatusOK, gin.H{"calibration": snap.Calibration, "stale": snap.ConfigStale})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
	defer cancel()
	var cal spectrum.Calibration
	err := s.sess.Apply(ctx, func(dev *device.Device) error {
		var err error
		cal, err = dev.Calibration(ctx)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.sess.Cache().SetCalibration(cal)
	c.JSON(http.StatusOK, gin.H{"calibration": cal, "stale": false})
}

func (s *Server) putCalibration(c *gin.Context) {
	var cal spectrum.Calibration
	if err := c.ShouldBindJSON(&cal); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
	defer cancel()
	var (
		stored  spectrum.Calibration
		warning error
	)
	err := s.sess.Apply(ctx, func(dev *device.Device) error {
		if err := dev.SetCalibration(ctx, cal); err != nil {
			if protocol.KindOf(err) != protocol.KindCalibrationWrite {
				return err
			}
			warning = err
		}
		var err error
		stored, err = dev.Calibration(ctx)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.sess.Cache().SetCalibration(stored)
	resp := gin.H{"calibration": stored}
	if warning != nil {
		// The device took the write; report what it holds now.
		log.Warn().Err(warning).Str("device", s.sess.Identity()).Msg("calibration read-back differs")
		resp["warning"] = warning.Error()
		resp["kind"] = protocol.KindCalibrationWrite.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSpectrum(c *gin.Context) {
	accumulated, _ := strconv.ParseBool(c.Query("accumulated"))
	format := s.sess.Status().SpectrumFormat
	ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
	defer cancel()
	var spec spectrum.Spectrum
	err := s.sess.Apply(ctx, func(dev *device.Device) error {
		var err error
		if accumulated {
			spec, err = dev.SpectrumAccumulated(ctx, format)
		} else {
			spec, err = dev.Spectrum(ctx, format)
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, spectrumResponse{
		Accumulated: accumulated,
		Duration:    spec.Duration.Seconds(),
		Calibration: spec.Calibration,
		Total:       spec.Total(),
		Counts:      spec.Counts,
	})
}
