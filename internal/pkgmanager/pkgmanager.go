// Package pkgmanager defines the package-manager capability consumed by
// the packages and files diff modules, and the default RPM-backed
// implementation. Extra backends (dpkg, apk, ...) plug in by implementing
// the same Capability interface, selected once at startup as an ordinary
// interface value.
package pkgmanager

import (
	"context"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// Capability is the set of operations a package manager backend must
// provide. It is executed against a throwaway container spawned from the
// image under inspection (see engine.Client.RunCapture); no backend talks
// to the host's own package database.
type Capability interface {
	// InstalledPackages returns every package the manager's database
	// records as installed in image id.
	InstalledPackages(ctx context.Context, id string) ([]containerdiff.Package, error)
	// UnownedFiles returns every path in metadata that no package claims,
	// after symlink-canonicalizing the manager's claimed file list
	// against treeRoot.
	UnownedFiles(ctx context.Context, id string, metadata map[containerdiff.AbsPath]containerdiff.FileAttrs, treeRoot string) ([]containerdiff.AbsPath, error)
}
