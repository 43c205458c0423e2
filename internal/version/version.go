package version

import "fmt"

const CLIName = "clawlett"

// Overridden at build time via -ldflags.
var (
	Version = "0.2.0"
	Commit  = "dev"
)

func Short() string {
	return Version
}

func Long() string {
	return fmt.Sprintf("%s %s (%s)", CLIName, Version, Commit)
}
