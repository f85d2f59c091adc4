//go:build linux
// +build linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/hal"
)

func initHAL(log *zap.Logger) {
	periphHAL, err := hal.NewPeriphHAL()
	if err != nil {
		log.Warn("failed to initialize periph.io HAL, falling back to mock", zap.Error(err))
		hal.SetGlobalHAL(hal.NewMockHAL())
		return
	}
	log.Info("hal initialized", zap.String("board", periphHAL.Info().Name))
	hal.SetGlobalHAL(periphHAL)
}
