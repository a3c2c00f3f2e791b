// Package common holds build information and logging setup shared by the
// commands.
package common

var (
	PackageName = "github.com/ruteri/pim-storage"
	// Version is set at build time with -ldflags "-X ...common.Version=..."
	Version = "dev"
)
