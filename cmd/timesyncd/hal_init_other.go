//go:build !linux
// +build !linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/hal"
)

func initHAL(log *zap.Logger) {
	log.Info("non-Linux platform detected, using mock HAL")
	hal.SetGlobalHAL(hal.NewMockHAL())
}
