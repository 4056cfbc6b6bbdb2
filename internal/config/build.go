package config

// Set at link time:
//
//	go build -ldflags "-X posturewatch/internal/config.version=1.2.3 \
//	    -X posturewatch/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X posturewatch/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/posture-agent
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent is the User-Agent the agent sends on outbound alert deliveries.
func (b BuildInfo) UserAgent() string {
	v := b.Version
	if v == "" {
		v = "dev"
	}
	return "PostureWatch/" + v
}
