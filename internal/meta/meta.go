// Package meta carries build metadata.
package meta

import "runtime/debug"

// Name is the server name reported to protocol clients.
const Name = "fde-sql-mcp"

// Version is overridden at build time with
// -ldflags "-X github.com/fde-labs/fde-sql-mcp/internal/meta.Version=v1.2.3".
var Version = "dev"

// ResolvedVersion returns Version, or the module version recorded by
// `go install` when Version was not stamped.
func ResolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
