package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omron93/containerdiff/internal/engine"
)

// fakeEngine serves a minimal single-layer, single-file legacy-layout
// export archive identified by ref, and reports no packages/history.
type fakeEngine struct {
	archives map[string][]byte
	failID   string
}

func (f *fakeEngine) Resolve(_ context.Context, ref string) (string, error) { return ref, nil }
func (f *fakeEngine) PullArchive(_ context.Context, id string) (io.ReadCloser, error) {
	if id == f.failID {
		return nil, errors.New("simulated pull failure")
	}
	return io.NopCloser(bytes.NewReader(f.archives[id])), nil
}
func (f *fakeEngine) History(context.Context, string) ([]engine.HistoryEntry, error) { return nil, nil }
func (f *fakeEngine) Inspect(_ context.Context, id string) (map[string]interface{}, error) {
	return map[string]interface{}{"Id": id}, nil
}
func (f *fakeEngine) RunCapture(context.Context, string, string) ([]byte, error) { return nil, nil }

func singleLayerArchive(t *testing.T, layerID, fileContent string) []byte {
	t.Helper()
	var layerBuf bytes.Buffer
	lw := tar.NewWriter(&layerBuf)
	body := []byte(fileContent)
	require.NoError(t, lw.WriteHeader(&tar.Header{Name: "hello.txt", Typeflag: tar.TypeReg, Size: int64(len(body)), Mode: 0o644}))
	_, err := lw.Write(body)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	var outer bytes.Buffer
	ow := tar.NewWriter(&outer)
	jsonBody := []byte(`{}`)
	require.NoError(t, ow.WriteHeader(&tar.Header{Name: layerID + "/json", Typeflag: tar.TypeReg, Size: int64(len(jsonBody)), Mode: 0o644}))
	_, err = ow.Write(jsonBody)
	require.NoError(t, err)
	require.NoError(t, ow.WriteHeader(&tar.Header{Name: layerID + "/layer.tar", Typeflag: tar.TypeReg, Size: int64(layerBuf.Len()), Mode: 0o644}))
	_, err = ow.Write(layerBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, ow.Close())
	return outer.Bytes()
}

func TestRunWithEngine_SuccessRemovesExtractionDirsByDefault(t *testing.T) {
	root := t.TempDir()
	eng := &fakeEngine{archives: map[string][]byte{
		"img1": singleLayerArchive(t, "img1", "hello\n"),
		"img2": singleLayerArchive(t, "img2", "hello\n"),
	}}

	opts := Options{
		Image1Ref:      "img1",
		Image2Ref:      "img2",
		ExtractionRoot: root,
		Log:            logrus.New(),
	}

	result, err := RunWithEngine(context.Background(), opts, eng)
	require.NoError(t, err)
	require.Contains(t, result, "files")
	require.Contains(t, result, "packages")
	require.Contains(t, result, "metadata")
	require.Contains(t, result, "history")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries, "extraction directories must be removed without --preserve")
}

func TestRunWithEngine_SuccessWithPreserveKeepsDirs(t *testing.T) {
	root := t.TempDir()
	preserveRoot := filepath.Join(root, "keep")
	eng := &fakeEngine{archives: map[string][]byte{
		"img1": singleLayerArchive(t, "img1", "a\n"),
		"img2": singleLayerArchive(t, "img2", "b\n"),
	}}

	opts := Options{
		Image1Ref:    "img1",
		Image2Ref:    "img2",
		PreserveRoot: preserveRoot,
		Log:          logrus.New(),
	}

	_, err := RunWithEngine(context.Background(), opts, eng)
	require.NoError(t, err)

	entries, err := os.ReadDir(preserveRoot)
	require.NoError(t, err)
	require.Len(t, entries, 2, "both extraction directories must survive a preserved run")
}

func TestRunWithEngine_ErrorAlwaysRemovesDirsEvenWithPreserve(t *testing.T) {
	root := t.TempDir()
	preserveRoot := filepath.Join(root, "keep")
	eng := &fakeEngine{
		archives: map[string][]byte{"img1": singleLayerArchive(t, "img1", "a\n")},
		failID:   "img2",
	}

	opts := Options{
		Image1Ref:    "img1",
		Image2Ref:    "img2",
		PreserveRoot: preserveRoot,
		Log:          logrus.New(),
	}

	_, err := RunWithEngine(context.Background(), opts, eng)
	require.Error(t, err)

	entries, statErr := os.ReadDir(preserveRoot)
	if statErr == nil {
		require.Empty(t, entries, "a failed run must remove extraction dirs even when --preserve was requested")
	}
}
