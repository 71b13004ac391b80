package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gabriel-vasile/mimetype"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// FilesModule compares every path not claimed by a package manager
// between two images.
type FilesModule struct{}

func (FilesModule) Key() containerdiff.ResultKey { return containerdiff.ResultKeyFiles }

func (FilesModule) Run(ctx context.Context, rc *Context, image1, image2 *containerdiff.ExtractedImage) (containerdiff.ModuleResult, error) {
	unowned1, err := rc.PkgManager.UnownedFiles(ctx, image1.ID, image1.Metadata, image1.TreeRoot)
	if err != nil {
		return nil, fmt.Errorf("unowned files for %s: %w", image1.ID, err)
	}
	unowned2, err := rc.PkgManager.UnownedFiles(ctx, image2.ID, image2.Metadata, image2.TreeRoot)
	if err != nil {
		return nil, fmt.Errorf("unowned files for %s: %w", image2.ID, err)
	}

	set1 := mapset.NewSet(unowned1...)
	set2 := mapset.NewSet(unowned2...)

	added := sortedPaths(set2.Difference(set1))
	removed := sortedPaths(set1.Difference(set2))
	common := sortedPaths(set1.Intersect(set2))

	addedOut := make([]interface{}, 0, len(added))
	for _, p := range added {
		addedOut = append(addedOut, []interface{}{string(p), mimeFor(image2, p)})
	}
	removedOut := make([]interface{}, 0, len(removed))
	for _, p := range removed {
		removedOut = append(removedOut, []interface{}{string(p), mimeFor(image1, p)})
	}

	modifiedOut := make([]interface{}, 0, len(common))
	for _, p := range common {
		metaDiff := metadataDiff(image1.Metadata[p], image2.Metadata[p])
		diff := contentDiff(image1, image2, p)
		if len(metaDiff) == 0 && len(diff) == 0 {
			continue
		}
		mimeNew := mimeFor(image2, p)
		if rc.Silent {
			modifiedOut = append(modifiedOut, []interface{}{string(p), mimeNew})
		} else {
			modifiedOut = append(modifiedOut, []interface{}{string(p), mimeNew, diff, metaDiff})
		}
	}

	return containerdiff.ModuleResult{
		containerdiff.ResultKeyFiles: map[string]interface{}{
			"added":    addedOut,
			"removed":  removedOut,
			"modified": modifiedOut,
		},
	}, nil
}

func sortedPaths(s mapset.Set[containerdiff.AbsPath]) []containerdiff.AbsPath {
	out := s.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deviceMimes synthesizes a MIME type for node kinds that have no
// content a sniffer could ever inspect.
var deviceMimes = map[containerdiff.Kind]string{
	containerdiff.KindBlockDev: "inode/blockdevice; charset=binary",
	containerdiff.KindCharDev:  "inode/chardevice; charset=binary",
	containerdiff.KindFIFO:     "inode/fifo; charset=binary",
}

func mimeFor(image *containerdiff.ExtractedImage, p containerdiff.AbsPath) string {
	attrs := image.Metadata[p]
	if mime, ok := deviceMimes[attrs.Kind]; ok {
		return mime
	}
	m, err := mimetype.DetectFile(filepath.Join(image.TreeRoot, string(p)))
	if err != nil {
		return "application/octet-stream"
	}
	return m.String()
}

// attrDiffFields lists the FileAttrs fields the files module compares,
// deliberately excluding mtime and chksum: both are expected to differ
// between otherwise-identical layers and would drown out real changes.
var attrDiffFields = []struct {
	name string
	get  func(containerdiff.FileAttrs) interface{}
}{
	{"kind", func(a containerdiff.FileAttrs) interface{} { return string(a.Kind) }},
	{"mode", func(a containerdiff.FileAttrs) interface{} { return a.Mode }},
	{"uid", func(a containerdiff.FileAttrs) interface{} { return a.UID }},
	{"gid", func(a containerdiff.FileAttrs) interface{} { return a.GID }},
	{"size", func(a containerdiff.FileAttrs) interface{} { return a.Size }},
	{"link_target", func(a containerdiff.FileAttrs) interface{} { return a.LinkTarget }},
}

// metadataDiff computes the (key, (old, new)) pairs that differ between
// two attribute sets, excluding mtime/chksum.
func metadataDiff(a, b containerdiff.FileAttrs) map[string]interface{} {
	diff := make(map[string]interface{})
	for _, f := range attrDiffFields {
		ov, nv := f.get(a), f.get(b)
		if ov != nv {
			diff[f.name] = []interface{}{ov, nv}
		}
	}
	return diff
}

// contentDiff returns a unified diff between the two files' line-split
// contents, or nil if either side is absent, not a regular file, or fails
// UTF-8 decoding.
func contentDiff(image1, image2 *containerdiff.ExtractedImage, p containerdiff.AbsPath) []string {
	a1, ok1 := image1.Metadata[p]
	a2, ok2 := image2.Metadata[p]
	if !ok1 || !ok2 || a1.Kind != containerdiff.KindRegular || a2.Kind != containerdiff.KindRegular {
		return nil
	}

	file1 := filepath.Join(image1.TreeRoot, string(p))
	file2 := filepath.Join(image2.TreeRoot, string(p))

	text1, ok := readUTF8(file1)
	if !ok {
		return nil
	}
	text2, ok := readUTF8(file2)
	if !ok {
		return nil
	}

	lines, err := unifiedDiffLines(splitLines(text1), splitLines(text2), 3, file1, file2)
	if err != nil {
		return nil
	}
	return lines
}

func readUTF8(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
