// Package containerdiff holds the data model and run-time context shared
// by the extractor, the package-manager capability, the diff modules, the
// filter and the orchestrator. It imports none of them, so any of them
// can import it without creating a cycle.
package containerdiff

import "github.com/sirupsen/logrus"

// AbsPath is a filesystem path beginning with "/", derived from a tar
// member's path by prefixing "/". It is the stable identity of a
// filesystem entry across both images being compared.
type AbsPath string

// Kind identifies the type of a filesystem entry captured in FileAttrs.
type Kind string

const (
	KindRegular  Kind = "regular"
	KindDir      Kind = "dir"
	KindSymlink  Kind = "symlink"
	KindBlockDev Kind = "blockdev"
	KindCharDev  Kind = "chardev"
	KindFIFO     Kind = "fifo"
	KindHardlink Kind = "hardlink"
	KindUnknown  Kind = "unknown"
)

// FileAttrs is the attribute record collected for every path seen while
// replaying an image's layers. mtime and chksum are carried for
// completeness but are never consulted by a diff module: the files
// module's own field list (attrDiffFields in internal/modules/files.go)
// omits both when computing a metadata diff.
type FileAttrs struct {
	Kind       Kind   `json:"kind"`
	Mode       int64  `json:"mode"`
	UID        int    `json:"uid"`
	GID        int    `json:"gid"`
	Size       int64  `json:"size"`
	MTime      int64  `json:"mtime"`
	LinkTarget string `json:"link_target,omitempty"`
	Chksum     string `json:"chksum,omitempty"`
}

// Package is an installed package identified by name and version, parsed
// from a package manager's NVR token.
type Package struct {
	Name    string
	Version string
}

// ExtractedImage is the materialized result of replaying an image's
// layers: its canonical ID, the root of the merged filesystem tree, and
// the per-path attribute map collected while replaying.
type ExtractedImage struct {
	ID       string
	TreeRoot string
	Metadata map[AbsPath]FileAttrs
}

// ResultKey is a well-known top-level key in the output JSON document,
// produced by exactly one diff module.
type ResultKey string

const (
	ResultKeyFiles    ResultKey = "files"
	ResultKeyPackages ResultKey = "packages"
	ResultKeyMetadata ResultKey = "metadata"
	ResultKeyHistory  ResultKey = "history"
)

// ModuleResult is a single module's contribution to the final document.
type ModuleResult map[ResultKey]interface{}

// Context carries the process-wide settings that are fixed at startup and
// read, never mutated, by every downstream call. It replaces module-level
// globals (engine socket, silent flag) with an explicit value threaded
// through Orchestrator -> Module.Run -> capability calls.
type Context struct {
	// EngineHost is the container engine's control socket address
	// (e.g. "unix:///var/run/docker.sock").
	EngineHost string
	// Silent requests abbreviated module output where a module defines
	// one; metadata and history ignore it.
	Silent bool
	// Log is the shared field logger; individual packages derive a
	// component-scoped logger from it via WithField.
	Log logrus.FieldLogger
}
