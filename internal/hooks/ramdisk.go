package hooks

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
)

// LogTimeFormat is the seconds part of stored ramdisk log names. The
// microseconds follow after an underscore, see LogTimestamp.
const LogTimeFormat = "2006.01.02_15.04.05"

// LogTimestamp formats t as YYYY.MM.DD_HH.MM.SS_ffffff in UTC.
func LogTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%06d", t.Format(LogTimeFormat), t.Nanosecond()/int(time.Microsecond))
}

// RamdiskError stores ramdisk logs and turns a reported error into a
// validation failure.
type RamdiskError struct {
	Base
	logsDir     string
	alwaysStore bool
	clock       clock.Clock
	logger      *logging.Logger
}

func NewRamdiskError(logsDir string, alwaysStore bool, clk clock.Clock, logger *logging.Logger) *RamdiskError {
	return &RamdiskError{
		logsDir:     logsDir,
		alwaysStore: alwaysStore,
		clock:       clock.OrReal(clk),
		logger:      logging.OrDefault(logger).WithComponent("ramdisk_error"),
	}
}

func (h *RamdiskError) Name() string { return "ramdisk_error" }

// BeforeProcessing stores logs before checking the error, so they are
// kept when the run fails.
func (h *RamdiskError) BeforeProcessing(_ context.Context, f *facts.Facts) error {
	if f.Logs != "" && (f.Error != "" || h.alwaysStore) {
		if err := h.storeLogs(f); err != nil {
			return err
		}
	}

	if f.Error != "" {
		return Errorf("Ramdisk reported error: %s", f.Error)
	}
	return nil
}

func (h *RamdiskError) storeLogs(f *facts.Facts) error {
	if h.logsDir == "" {
		h.logger.Warn("Failed to store logs received from the discovery ramdisk because processing.ramdisk_logs_dir is not set")
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(f.Logs)
	if err != nil {
		return fmt.Errorf("failed to decode ramdisk logs: %w", err)
	}

	if err := os.MkdirAll(h.logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create ramdisk logs directory: %w", err)
	}

	name := fmt.Sprintf("bmc_%s_%s", f.BMCAddress(), LogTimestamp(h.clock.Now()))
	path := filepath.Join(h.logsDir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write ramdisk logs: %w", err)
	}

	h.logger.Info("Ramdisk logs stored", "path", path, "bytes", len(data))
	return nil
}
