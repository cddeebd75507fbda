// Package sfmirror holds build-level metadata shared by the CLI.
package sfmirror

// Version is the sfmirror release version.
const Version = "0.2.0"
