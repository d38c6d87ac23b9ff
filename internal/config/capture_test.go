package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCaptureConfig() CaptureConfig {
	cfg := DefaultCaptureConfig()
	cfg.Capture.Interfaces = []InterfaceConfig{{Name: "eth0"}}
	return cfg
}

func TestCaptureConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := validCaptureConfig()
	require.NoError(t, cfg.Validate())
}

func TestCaptureConfigValidateRejectsBadMode(t *testing.T) {
	cfg := validCaptureConfig()
	cfg.Capture.Mode = "promiscuous-everything"
	assert.Error(t, cfg.Validate())
}

func TestCaptureConfigValidateRejectsNoInterfaces(t *testing.T) {
	cfg := validCaptureConfig()
	cfg.Capture.Interfaces = nil
	assert.Error(t, cfg.Validate())
}

func TestCaptureConfigValidateRejectsEmptyInterfaceName(t *testing.T) {
	cfg := validCaptureConfig()
	cfg.Capture.Interfaces = []InterfaceConfig{{Name: ""}}
	assert.Error(t, cfg.Validate())
}

func TestCaptureConfigValidateRejectsSmallRingBuffer(t *testing.T) {
	cfg := validCaptureConfig()
	cfg.Capture.RingBufferSize = 1
	assert.Error(t, cfg.Validate())
}

func TestCaptureConfigValidateRejectsSnapLengthOutOfRange(t *testing.T) {
	cfg := validCaptureConfig()
	cfg.Capture.SnapLength = 70000
	assert.Error(t, cfg.Validate())

	cfg.Capture.SnapLength = 1
	assert.Error(t, cfg.Validate())
}

func TestLoadCaptureConfigMissingFileFails(t *testing.T) {
	_, err := LoadCaptureConfig("/nonexistent/netsentinel-capture.toml")
	require.Error(t, err)
}
