package pkgmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
)

// RPM implements Capability against the `rpm` binary inside the inspected
// image, run via engine.Client.RunCapture.
type RPM struct {
	Engine engine.Client
	Log    logrus.FieldLogger
}

// NewRPM builds an RPM-backed Capability.
func NewRPM(eng engine.Client, log logrus.FieldLogger) *RPM {
	return &RPM{Engine: eng, Log: log.WithField("component", "pkgmanager.rpm")}
}

// InstalledPackages runs `rpm -qa` and parses each NVR token into a
// Package. An image with no RPM database produces empty `rpm -qa`
// output, which is treated as zero packages rather than an error.
func (r *RPM) InstalledPackages(ctx context.Context, id string) ([]containerdiff.Package, error) {
	out, err := r.Engine.RunCapture(ctx, id, "rpm -qa")
	if err != nil {
		return nil, fmt.Errorf("running rpm -qa in %s: %w", id, err)
	}

	tokens := strings.Fields(string(out))
	packages := make([]containerdiff.Package, 0, len(tokens))
	for _, tok := range tokens {
		packages = append(packages, parseNVR(tok))
	}
	return packages, nil
}

// parseNVR splits a raw RPM NVR token on "-" and reassembles it: version
// is the last two "-"-delimited components joined by "-", name is
// everything before.
func parseNVR(token string) containerdiff.Package {
	parts := strings.Split(token, "-")
	if len(parts) < 3 {
		return containerdiff.Package{Name: token}
	}
	version := strings.Join(parts[len(parts)-2:], "-")
	name := strings.Join(parts[:len(parts)-2], "-")
	return containerdiff.Package{Name: name, Version: version}
}

// UnownedFiles computes metadata's keys minus the canonicalized set of
// paths owned by installed packages.
func (r *RPM) UnownedFiles(ctx context.Context, id string, metadata map[containerdiff.AbsPath]containerdiff.FileAttrs, treeRoot string) ([]containerdiff.AbsPath, error) {
	owned, err := r.ownedFiles(ctx, id, treeRoot)
	if err != nil {
		return nil, err
	}

	ownedSet := mapset.NewSet[containerdiff.AbsPath]()
	for _, p := range owned {
		ownedSet.Add(p)
	}

	unowned := make([]containerdiff.AbsPath, 0, len(metadata))
	for p := range metadata {
		if !ownedSet.Contains(p) {
			unowned = append(unowned, p)
		}
	}
	sort.Slice(unowned, func(i, j int) bool { return unowned[i] < unowned[j] })
	return unowned, nil
}

// ownedFiles runs `rpm -qal`, filters the "(contains no files)" lines, and
// canonicalizes each claimed path's directory portion against treeRoot so
// that packages claiming files through different symlinked directory
// names (e.g. one reports /lib/foo, another /usr/lib/foo when /lib ->
// usr/lib) compare equal.
func (r *RPM) ownedFiles(ctx context.Context, id string, treeRoot string) ([]containerdiff.AbsPath, error) {
	out, err := r.Engine.RunCapture(ctx, id, `rpm -qal | grep -v '(contains no files)'`)
	if err != nil {
		return nil, fmt.Errorf("running rpm -qal in %s: %w", id, err)
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	owned := make([]containerdiff.AbsPath, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		owned = append(owned, r.canonicalize(line, treeRoot))
	}
	return owned, nil
}

// canonicalize resolves claimedPath's directory portion to a real path
// under treeRoot via host-side realpath, then reattaches the basename, so
// a claim against a symlinked directory compares equal to the resolved
// location recorded in metadata.
func (r *RPM) canonicalize(claimedPath string, treeRoot string) containerdiff.AbsPath {
	dir := filepath.Dir(claimedPath)
	base := filepath.Base(claimedPath)

	hostDir, err := securejoin.SecureJoin(treeRoot, dir)
	if err != nil {
		r.Log.WithError(err).WithField("path", claimedPath).Debug("securejoin failed, using claimed path as-is")
		return containerdiff.AbsPath(claimedPath)
	}

	resolved, err := filepath.EvalSymlinks(hostDir)
	if err != nil {
		// Directory doesn't exist on disk (package claims a path the
		// image never actually wrote); fall back to the unresolved
		// directory so the entry can still be compared, even though it
		// will not match anything in metadata.
		resolved = hostDir
	}

	rel, err := filepath.Rel(treeRoot, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return containerdiff.AbsPath(claimedPath)
	}

	return containerdiff.AbsPath("/" + filepath.ToSlash(filepath.Join(rel, base)))
}
