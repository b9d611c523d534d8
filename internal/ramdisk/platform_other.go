//go:build !linux

package ramdisk

import (
	"errors"

	"grimm.is/discoverd/internal/logging"
)

var errUnsupported = errors.New("hardware discovery is only supported on linux")

type unsupportedPlatform struct{}

// NewNetlinkPlatform returns a platform that always fails off linux.
func NewNetlinkPlatform(*logging.Logger) Platform {
	return unsupportedPlatform{}
}

func (unsupportedPlatform) Interfaces() ([]NIC, error) { return nil, errUnsupported }
func (unsupportedPlatform) Machine() (string, error)  { return "", errUnsupported }
