package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"pagebundle/internal/components/telemetry"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = content
	}
	return out
}

func TestZip(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "shop_images")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "nested"), 0755))

	files := map[string][]byte{
		"a.png":        []byte("\x89PNG\r\n\x1a\n\x00\x00binary"),
		"b.jpg":        make([]byte, 64*1024),
		"nested/c.gif": []byte("GIF89a"),
		"empty.txt":    {},
	}
	for i := range files["b.jpg"] {
		files["b.jpg"][i] = byte(i * 7)
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(folder, filepath.FromSlash(name)), content, 0644))
	}

	tel := &telemetry.RecordingAPI{}
	out, err := NewArchiver(tel).Zip(context.Background(), folder)
	require.NoError(t, err)
	require.Equal(t, folder+".zip", out)
	require.Equal(t, files, readArchive(t, out))
	require.Empty(t, tel.Reports("broken", report_archiver_zip))
}

func TestZipEmptyFolder(t *testing.T) {
	folder := t.TempDir()

	out, err := NewArchiver(&telemetry.RecordingAPI{}).Zip(context.Background(), folder+"/")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(folder)+".zip", out)
	require.Empty(t, readArchive(t, out))
}

func TestZipMissingFolder(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "missing")
	tel := &telemetry.RecordingAPI{}

	_, err := NewArchiver(tel).Zip(context.Background(), folder)
	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	require.Equal(t, folder, archiveErr.Folder)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoFileExists(t, Path(folder))
	require.Len(t, tel.Reports("broken", report_archiver_zip), 1)
}

func TestZipNotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := NewArchiver(&telemetry.RecordingAPI{}).Zip(context.Background(), path)
	var archiveErr *ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	require.NoFileExists(t, Path(path))
}
