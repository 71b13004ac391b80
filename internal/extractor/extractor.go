// Package extractor resolves an image reference to its layer DAG,
// streams layer tarballs in oldest-to-newest order, honors whiteout
// deletions, and records per-path metadata side-band from the layer
// archives' tar headers. The parent chain is walked iteratively rather than
// recursively so a long or cyclic history can't blow the call stack.
package extractor

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/sirupsen/logrus"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
)

// Options controls the shape of an extraction.
type Options struct {
	// OneLayer restricts extraction to the top layer only, skipping
	// parent-chain discovery.
	OneLayer bool
	// HonorWhiteouts applies ".wh." deletions while replaying layers.
	// Callers should always set this; it exists to mirror undocker.py's
	// own parameter rather than to suggest it is commonly disabled.
	HonorWhiteouts bool
}

// Extract resolves ref via eng, streams its export archive, and replays its
// layers oldest-to-newest into outDir, applying whiteouts and recording a
// path -> attributes map. outDir must already exist or be creatable by the
// caller's parent directory.
func Extract(ctx context.Context, eng engine.Client, ref string, outDir string, opts Options, log logrus.FieldLogger) (*containerdiff.ExtractedImage, error) {
	log = log.WithField("component", "extractor")

	id, err := eng.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", ref, err)
	}
	log = log.WithField("image", id)

	archivePath, err := stageArchive(ctx, eng, id)
	if err != nil {
		return nil, fmt.Errorf("staging archive for %s: %w", id, err)
	}
	defer os.Remove(archivePath)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction dir %s: %w", outDir, err)
	}

	layers, err := layerChain(archivePath, id, opts.OneLayer, log)
	if err != nil {
		return nil, fmt.Errorf("discovering layer chain for %s: %w", id, err)
	}

	metadata := make(map[containerdiff.AbsPath]containerdiff.FileAttrs)
	for _, layerID := range layers {
		log.WithField("layer", layerID).Debug("replaying layer")
		if err := replayLayer(archivePath, layerID, outDir, metadata, opts.HonorWhiteouts); err != nil {
			return nil, fmt.Errorf("replaying layer %s: %w", layerID, err)
		}
	}

	return &containerdiff.ExtractedImage{
		ID:       id,
		TreeRoot: outDir,
		Metadata: metadata,
	}, nil
}

// stageArchive streams the engine's export of id into a temp file on disk,
// so the (potentially large, and not necessarily seekable) export stream
// can be scanned multiple times while walking the layer chain.
func stageArchive(ctx context.Context, eng engine.Client, id string) (string, error) {
	rc, err := eng.PullArchive(ctx, id)
	if err != nil {
		return "", fmt.Errorf("pulling archive: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "containerdiff-archive-*.tar")
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing staging file: %w", err)
	}
	return f.Name(), nil
}

// withMember scans archivePath (opening it fresh) for a member whose
// (slash-trimmed) name equals name, and calls fn with its header and a
// reader bounded to its content. archive/tar only supports forward
// scanning, so every lookup reopens and rescans the file; this is the Go
// analogue of Python tarfile's extractfile(name), which works against an
// already-indexed member list.
func withMember(archivePath, name string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("member %q not found in archive", name)
		}
		if err != nil {
			return fmt.Errorf("scanning archive for %q: %w", name, err)
		}
		if strings.TrimSuffix(hdr.Name, "/") == name {
			return fn(hdr, tr)
		}
	}
}

// hasMember reports whether archivePath contains a member named name.
func hasMember(archivePath, name string) (bool, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if strings.TrimSuffix(hdr.Name, "/") == name {
			return true, nil
		}
	}
}

// layerChain determines the oldest-first sequence of layer IDs to replay.
// When the archive carries a manifest.json (the newer, content-addressable
// layout), tarball.Manifest -- the same type go-containerregistry's own
// tarball reader uses -- is decoded to find the top layer: the last entry
// of the first manifest's Layers list. Otherwise id is itself the top
// layer (the legacy per-layer-JSON layout). The parent chain is then
// walked iteratively by reading each "<layer>/json" sibling.
func layerChain(archivePath, id string, oneLayer bool, log logrus.FieldLogger) ([]string, error) {
	topLayer := id

	hasManifest, err := hasMember(archivePath, "manifest.json")
	if err != nil {
		return nil, err
	}
	if hasManifest {
		var manifest tarball.Manifest
		err := withMember(archivePath, "manifest.json", func(hdr *tar.Header, r io.Reader) error {
			return json.NewDecoder(r).Decode(&manifest)
		})
		if err != nil {
			return nil, fmt.Errorf("reading manifest.json: %w", err)
		}
		if len(manifest) == 0 || len(manifest[0].Layers) == 0 {
			return nil, fmt.Errorf("manifest.json has no layers")
		}
		top := manifest[0].Layers[len(manifest[0].Layers)-1]
		topLayer = strings.SplitN(top, "/", 2)[0]
		log.WithField("top_layer", topLayer).Debug("resolved top layer from manifest.json")
	}

	if oneLayer {
		return []string{topLayer}, nil
	}

	// Walk parent pointers top-down, then reverse for oldest-first
	// application order.
	var chain []string
	current := topLayer
	seen := make(map[string]bool)
	for current != "" {
		if seen[current] {
			return nil, fmt.Errorf("cycle detected in layer chain at %s", current)
		}
		seen[current] = true
		chain = append(chain, current)

		var layerJSON struct {
			Parent string `json:"parent"`
		}
		err := withMember(archivePath, current+"/json", func(hdr *tar.Header, r io.Reader) error {
			return json.NewDecoder(r).Decode(&layerJSON)
		})
		if err != nil {
			return nil, fmt.Errorf("reading %s/json: %w", current, err)
		}
		current = layerJSON.Parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// replayLayer iterates layerID's layer.tar member-by-member in archive
// order, honoring whiteouts and recording metadata.
func replayLayer(archivePath, layerID, outDir string, metadata map[containerdiff.AbsPath]containerdiff.FileAttrs, honorWhiteouts bool) error {
	return withMember(archivePath, layerID+"/layer.tar", func(_ *tar.Header, r io.Reader) error {
		nested := tar.NewReader(r)
		for {
			hdr, err := nested.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading layer.tar: %w", err)
			}
			if err := applyMember(hdr, nested, outDir, metadata, honorWhiteouts); err != nil {
				return fmt.Errorf("applying %s: %w", hdr.Name, err)
			}
		}
	})
}

// applyMember handles a single tar member: either a whiteout deletion, or
// a regular entry that is recorded into metadata and (unless it is a
// device/FIFO) extracted onto disk.
func applyMember(hdr *tar.Header, r io.Reader, outDir string, metadata map[containerdiff.AbsPath]containerdiff.FileAttrs, honorWhiteouts bool) error {
	name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
	base := path.Base(name)

	if honorWhiteouts && strings.HasPrefix(base, ".wh.") {
		// The opaque-directory marker ".wh..wh..opq" is handled by the
		// same prefix/infix rule as a regular whiteout; it is not
		// special-cased into "delete everything already present".
		var newName string
		if strings.HasPrefix(name, ".wh.") {
			newName = strings.TrimPrefix(name, ".wh.")
		} else {
			newName = strings.Replace(name, "/.wh.", "/", 1)
		}
		delete(metadata, containerdiff.AbsPath("/"+newName))

		target, err := securejoin.SecureJoin(outDir, newName)
		if err != nil {
			return fmt.Errorf("resolving whiteout target %q: %w", newName, err)
		}
		if err := os.RemoveAll(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing whited-out %q: %w", newName, err)
		}
		return nil
	}

	metadata[containerdiff.AbsPath("/"+name)] = attrsFromHeader(hdr)

	switch hdr.Typeflag {
	case tar.TypeBlock, tar.TypeChar, tar.TypeFifo:
		// Device/FIFO nodes are never materialized on disk, only
		// recorded into metadata above.
		return nil
	}

	target, err := securejoin.SecureJoin(outDir, name)
	if err != nil {
		return fmt.Errorf("resolving path %q: %w", name, err)
	}
	return extractMember(hdr, r, target)
}

func extractMember(hdr *tar.Header, r io.Reader, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode&0o7777)|0o700)
	case tar.TypeSymlink:
		if err := os.MkdirAll(parentOf(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		if err := os.MkdirAll(parentOf(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		linkTarget, err := securejoin.SecureJoin(parentOf(target), hdr.Linkname)
		if err != nil {
			return err
		}
		if err := os.Link(linkTarget, target); err != nil {
			// A hardlink to a path not yet materialized (archive order
			// quirk) is not fatal; metadata already recorded it.
			return nil
		}
		return nil
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(parentOf(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o7777)|0o600)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, r)
		return err
	default:
		return nil
	}
}

func parentOf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "."
	}
	return p[:idx]
}

func attrsFromHeader(hdr *tar.Header) containerdiff.FileAttrs {
	attrs := containerdiff.FileAttrs{
		Kind:  kindFromTypeflag(hdr.Typeflag),
		Mode:  hdr.Mode,
		UID:   hdr.Uid,
		GID:   hdr.Gid,
		Size:  hdr.Size,
		MTime: hdr.ModTime.Unix(),
	}
	if hdr.Typeflag == tar.TypeSymlink {
		attrs.LinkTarget = hdr.Linkname
	}
	return attrs
}

func kindFromTypeflag(t byte) containerdiff.Kind {
	switch t {
	case tar.TypeReg, tar.TypeRegA:
		return containerdiff.KindRegular
	case tar.TypeDir:
		return containerdiff.KindDir
	case tar.TypeSymlink:
		return containerdiff.KindSymlink
	case tar.TypeLink:
		return containerdiff.KindHardlink
	case tar.TypeBlock:
		return containerdiff.KindBlockDev
	case tar.TypeChar:
		return containerdiff.KindCharDev
	case tar.TypeFifo:
		return containerdiff.KindFIFO
	default:
		return containerdiff.KindUnknown
	}
}
