package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omron93/containerdiff/internal/containerdiff"
	"github.com/omron93/containerdiff/internal/engine"
)

// fakeEngine serves a pre-built export archive for Resolve/PullArchive and
// nothing else; the extractor never calls History/Inspect/RunCapture.
type fakeEngine struct {
	id      string
	archive []byte
}

func (f *fakeEngine) Resolve(context.Context, string) (string, error) { return f.id, nil }
func (f *fakeEngine) PullArchive(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.archive)), nil
}
func (f *fakeEngine) History(context.Context, string) ([]engine.HistoryEntry, error) { return nil, nil }
func (f *fakeEngine) Inspect(context.Context, string) (map[string]interface{}, error) {
	return nil, nil
}
func (f *fakeEngine) RunCapture(context.Context, string, string) ([]byte, error) { return nil, nil }

// tarEntry is one member to add to a synthetic layer.tar or outer archive.
type tarEntry struct {
	name     string
	typeflag byte
	content  string
	linkname string
}

func buildTar(entries []tarEntry) []byte {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Size:     int64(len(e.content)),
			Mode:     0o644,
			Linkname: e.linkname,
		}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if err := w.WriteHeader(hdr); err != nil {
			panic(err)
		}
		if e.content != "" {
			if _, err := w.Write([]byte(e.content)); err != nil {
				panic(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// buildLegacyImage constructs a flat per-layer-JSON export archive (no
// manifest.json) with the given layers, oldest-to-newest order as passed,
// linked via "parent" fields, topLayer identifying the top.
func buildLegacyImage(layers []struct {
	id      string
	parent  string
	members []tarEntry
}) []byte {
	var outer []tarEntry
	for _, l := range layers {
		content := `{}`
		if l.parent != "" {
			content = `{"parent":"` + l.parent + `"}`
		}
		outer = append(outer, tarEntry{name: l.id + "/json", content: content})
		outer = append(outer, tarEntry{
			name:    l.id + "/layer.tar",
			content: string(buildTar(l.members)),
		})
	}
	return buildTar(outer)
}

func TestExtractLayerOrdering(t *testing.T) {
	// Property #1: three layers A (parent) -> B -> C (top) each writing
	// /x; the extracted /x must reflect C's content and attributes.
	archive := buildLegacyImage([]struct {
		id      string
		parent  string
		members []tarEntry
	}{
		{id: "layerA", parent: "", members: []tarEntry{{name: "x", typeflag: tar.TypeReg, content: "1"}}},
		{id: "layerB", parent: "layerA", members: []tarEntry{{name: "x", typeflag: tar.TypeReg, content: "2"}}},
		{id: "layerC", parent: "layerB", members: []tarEntry{{name: "x", typeflag: tar.TypeReg, content: "3"}}},
	})

	eng := &fakeEngine{id: "layerC", archive: archive}
	outDir := t.TempDir()
	log := logrus.New()

	img, err := Extract(context.Background(), eng, "layerC", outDir, Options{HonorWhiteouts: true}, log)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "x"))
	require.NoError(t, err)
	require.Equal(t, "3", string(data))

	attrs, ok := img.Metadata["/x"]
	require.True(t, ok)
	require.Equal(t, containerdiff.KindRegular, attrs.Kind)
	require.Equal(t, int64(1), attrs.Size)
}

func TestExtractWhiteoutRemoval(t *testing.T) {
	// Property #2: layer A writes /etc/foo, layer B whites it out; after
	// extraction /etc/foo is gone from both tree_root and metadata, but
	// /etc survives.
	archive := buildLegacyImage([]struct {
		id      string
		parent  string
		members []tarEntry
	}{
		{id: "layerA", parent: "", members: []tarEntry{
			{name: "etc", typeflag: tar.TypeDir},
			{name: "etc/foo", typeflag: tar.TypeReg, content: "hi"},
		}},
		{id: "layerB", parent: "layerA", members: []tarEntry{
			{name: "etc/.wh.foo", typeflag: tar.TypeReg},
		}},
	})

	eng := &fakeEngine{id: "layerB", archive: archive}
	outDir := t.TempDir()
	log := logrus.New()

	img, err := Extract(context.Background(), eng, "layerB", outDir, Options{HonorWhiteouts: true}, log)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "etc", "foo"))
	require.True(t, os.IsNotExist(err))
	_, ok := img.Metadata["/etc/foo"]
	require.False(t, ok)

	_, err = os.Stat(filepath.Join(outDir, "etc"))
	require.NoError(t, err)
	_, ok = img.Metadata["/etc"]
	require.True(t, ok)
}

func TestExtractWhiteoutAtRoot(t *testing.T) {
	// Property #3: a root-level ".wh.tmp" removes /tmp recursively.
	archive := buildLegacyImage([]struct {
		id      string
		parent  string
		members []tarEntry
	}{
		{id: "layerA", parent: "", members: []tarEntry{
			{name: "tmp", typeflag: tar.TypeDir},
			{name: "tmp/a", typeflag: tar.TypeReg, content: "x"},
		}},
		{id: "layerB", parent: "layerA", members: []tarEntry{
			{name: ".wh.tmp", typeflag: tar.TypeReg},
		}},
	})

	eng := &fakeEngine{id: "layerB", archive: archive}
	outDir := t.TempDir()
	log := logrus.New()

	_, err := Extract(context.Background(), eng, "layerB", outDir, Options{HonorWhiteouts: true}, log)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestExtractDeviceNotMaterialized(t *testing.T) {
	// Property #4: a block-device member is recorded in metadata with
	// kind "blockdev" but never appears under tree_root.
	archive := buildLegacyImage([]struct {
		id      string
		parent  string
		members []tarEntry
	}{
		{id: "layerA", parent: "", members: []tarEntry{
			{name: "dev", typeflag: tar.TypeDir},
			{name: "dev/sda", typeflag: tar.TypeBlock},
		}},
	})

	eng := &fakeEngine{id: "layerA", archive: archive}
	outDir := t.TempDir()
	log := logrus.New()

	img, err := Extract(context.Background(), eng, "layerA", outDir, Options{HonorWhiteouts: true}, log)
	require.NoError(t, err)

	attrs, ok := img.Metadata["/dev/sda"]
	require.True(t, ok)
	require.Equal(t, containerdiff.KindBlockDev, attrs.Kind)

	_, err = os.Stat(filepath.Join(outDir, "dev", "sda"))
	require.True(t, os.IsNotExist(err))
}
