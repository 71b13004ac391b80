package pkgmanager

import (
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

func TestParseNVR(t *testing.T) {
	// Property #5.
	pkg := parseNVR("glibc-common-2.28-42.el8")
	require.Equal(t, containerdiff.Package{Name: "glibc-common", Version: "2.28-42.el8"}, pkg)
}

func TestSymlinkCanonicalization(t *testing.T) {
	// Property #6: /lib -> usr/lib; rpm -qal reports /lib/libc.so.6 but
	// metadata only knows about /usr/lib/libc.so.6. After canonicalizing,
	// unowned_files excludes it.
	treeRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(treeRoot, "usr", "lib"), 0o755))
	require.NoError(t, os.Symlink("usr/lib", filepath.Join(treeRoot, "lib")))
	require.NoError(t, os.WriteFile(filepath.Join(treeRoot, "usr", "lib", "libc.so.6"), []byte("x"), 0o644))

	r := &RPM{Log: logrus.New()}
	canonical := r.canonicalize("/lib/libc.so.6", treeRoot)
	require.Equal(t, containerdiff.AbsPath("/usr/lib/libc.so.6"), canonical)

	metadata := map[containerdiff.AbsPath]containerdiff.FileAttrs{
		"/usr/lib/libc.so.6": {Kind: containerdiff.KindRegular},
	}
	eng := &fakeEngineRunCapture{lines: "/lib/libc.so.6"}
	r.Engine = eng
	unowned, err := r.UnownedFiles(context.Background(), "img", metadata, treeRoot)
	require.NoError(t, err)
	require.Empty(t, unowned)
}

// fakeEngineRunCapture satisfies engine.Client with only RunCapture wired
// to a fixed rpm -qal response.
type fakeEngineRunCapture struct {
	lines string
}

func (f *fakeEngineRunCapture) Resolve(context.Context, string) (string, error) { return "", nil }
func (f *fakeEngineRunCapture) PullArchive(context.Context, string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeEngineRunCapture) History(context.Context, string) ([]engine.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeEngineRunCapture) Inspect(context.Context, string) (map[string]interface{}, error) {
	return nil, nil
}
func (f *fakeEngineRunCapture) RunCapture(context.Context, string, string) ([]byte, error) {
	return []byte(f.lines), nil
}
