package version

// Set at link time, e.g.
//
//	go build -ldflags "-X github.com/you/gnasty-triggers/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
