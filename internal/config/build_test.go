package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildInfo_Defaults(t *testing.T) {
	info := NewBuildInfo()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "none", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
}

func TestBuildInfo_UserAgent(t *testing.T) {
	assert.Equal(t, "PostureWatch/1.4.0", BuildInfo{Version: "1.4.0"}.UserAgent())
	assert.Equal(t, "PostureWatch/dev", BuildInfo{}.UserAgent())
}
