// Package modules implements the four built-in diff modules (files,
// packages, metadata, history) and the registry that runs them. Module
// discovery is a static, build-time registry of Module values rather
// than a directory-enumeration-plus-introspection scheme: there is no
// "missing entry point" error class to report.
package modules

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
	"github.com/omron93/containerdiff/internal/pkgmanager"
)

// Context carries everything a module needs to compare two images: the
// process-wide settings fixed at startup (engine host, silent flag,
// logger) plus the live capability values modules call into. It is
// threaded explicitly from the orchestrator into every Module.Run call
// instead of being read off module-level globals.
type Context struct {
	containerdiff.Context
	Engine     engine.Client
	PkgManager pkgmanager.Capability
}

// log returns a component-scoped logger derived from the context's
// shared logger.
func (c *Context) log(component string) logrus.FieldLogger {
	return c.Context.Log.WithField("component", component)
}

// Module is one pluggable facet of the comparison between two images. Its
// contract is uniform regardless of what it inspects: two extracted
// images in, one disjoint-keyed fragment out.
type Module interface {
	// Key is the single ResultKey this module's contribution is stored
	// under.
	Key() containerdiff.ResultKey
	// Run compares image1 against image2 and returns this module's
	// fragment of the final result document. A runtime error aborts the
	// whole run rather than being swallowed: a buggy diff module
	// producing worse-than-silent partial data is worse than a crash.
	Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (containerdiff.ModuleResult, error)
}
