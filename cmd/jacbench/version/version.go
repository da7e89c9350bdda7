package version

import "runtime/debug"

// Version is overridden at build time via
// -ldflags "-X .../cmd/jacbench/version.Version=v1.2.3".
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	inf, ok := debug.ReadBuildInfo()
	if !ok || inf.Main.Version == "" || inf.Main.Version == "(devel)" {
		return
	}
	Version = inf.Main.Version
}
