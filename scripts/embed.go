// Package scripts embeds the Risor scripts shipped with typedb.
package scripts

import "embed"

// FS holds the embedded scripts. Paths are relative to this directory.
//
//go:embed enumerate/*.risor
var FS embed.FS

// StdlibEnumeration computes the modules an analyzed standard library is
// expected to contain.
const StdlibEnumeration = "enumerate/stdlib.risor"
