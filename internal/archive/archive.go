// Package archive packs an image folder into a single zip file.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pagebundle/internal/components/assert"
	"pagebundle/internal/components/telemetry"
	"pagebundle/pkg/osutil"

	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_archiver_zip = "archiver.zip"
)

var tracer = otel.Tracer("pagebundle/archive")

// ArchiveError is returned when the folder could not be archived, either
// because it is missing or because reading or writing failed.
type ArchiveError struct {
	Folder string
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %s", e.Folder, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Path returns where the archive of folder is written: next to it, named
// `<folder>.zip`.
func Path(folder string) string {
	return filepath.Clean(folder) + ".zip"
}

type Archiver struct {
	tel telemetry.API
}

func NewArchiver(tel telemetry.API) Archiver {
	assert.NotNil(tel)
	return Archiver{tel: telemetry.NewScopedAPI("archive", tel)}
}

// Zip writes every file under folder (recursively, names relative to the
// folder) into Path(folder) and returns that path. An empty folder gives a
// valid empty archive.
func (a Archiver) Zip(ctx context.Context, folder string) (string, error) {
	_, span := tracer.Start(ctx, "archiver:Zip")
	defer span.End()

	out := Path(folder)
	n, err := a.zip(folder, out)
	if err != nil {
		a.tel.ReportBroken(report_archiver_zip, err, folder)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive folder")
		return "", err
	}

	span.SetAttributes(attribute.Int("archive.entries", n))
	a.tel.ReportDebug("archived folder", folder, out, n)
	return out, nil
}

func (a Archiver) zip(folder, out string) (int, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return 0, &ArchiveError{Folder: folder, Err: err}
	}
	if !info.IsDir() {
		return 0, &ArchiveError{Folder: folder, Err: errors.New("not a directory")}
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, &ArchiveError{Folder: folder, Err: &osutil.FileWriteError{Path: out, Err: err}}
	}

	n, err := writeEntries(zip.NewWriter(f), folder, out)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = &osutil.FileWriteError{Path: out, Err: closeErr}
	}
	if err != nil {
		os.Remove(out)
		return 0, &ArchiveError{Folder: folder, Err: err}
	}
	return n, nil
}

func writeEntries(w *zip.Writer, folder, out string) (int, error) {
	count := 0
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		entry, err := w.CreateHeader(header)
		if err != nil {
			return &osutil.FileWriteError{Path: out, Err: err}
		}
		if err := copyFile(entry, path, out); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, &osutil.FileWriteError{Path: out, Err: err}
	}
	return count, nil
}

func copyFile(dst io.Writer, path, out string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	rec := &readErr{r: src}
	if _, err := io.Copy(dst, rec); err != nil {
		if rec.err != nil {
			return rec.err
		}
		return &osutil.FileWriteError{Path: out, Err: err}
	}
	return nil
}

type readErr struct {
	r   io.Reader
	err error
}

func (r *readErr) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}
