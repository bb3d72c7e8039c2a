package osutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileWriteError is returned when something could not be persisted to the
// local filesystem.
type FileWriteError struct {
	Path string
	Err  error
}

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("write %s: %s", e.Path, e.Err)
}

func (e *FileWriteError) Unwrap() error {
	return e.Err
}

// WriteFile copies r into a newly created file at path. On failure the
// partially written file is removed. Errors coming from r are returned as
// is, everything else is a *FileWriteError.
func WriteFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &FileWriteError{Path: path, Err: err}
	}
	src := &recordingReader{r: r}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		if src.err != nil {
			return n, src.err
		}
		return n, &FileWriteError{Path: path, Err: err}
	}
	return n, nil
}

type recordingReader struct {
	r   io.Reader
	err error
}

func (r *recordingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// PrepareDir makes sure `dir` exists and is empty. If it already exists with
// files in it, it is renamed to `<dir>-<unix seconds>` so that its contents stay around for
// inspection, the name of the moved directory is returned.
func PrepareDir(dir string, now time.Time) (string, error) {
	var moved string

	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return "", &FileWriteError{Path: dir, Err: errors.New("exists and is not a directory")}
	case err == nil:
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", &FileWriteError{Path: dir, Err: err}
		}
		if len(entries) == 0 {
			return "", nil
		}
		moved = fmt.Sprintf("%s-%d", filepath.Clean(dir), now.Unix())
		for i := 1; exists(moved); i++ {
			moved = fmt.Sprintf("%s-%d-%d", filepath.Clean(dir), now.Unix(), i)
		}
		if err := os.Rename(dir, moved); err != nil {
			return "", &FileWriteError{Path: dir, Err: err}
		}
	case !os.IsNotExist(err):
		return "", &FileWriteError{Path: dir, Err: err}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return moved, &FileWriteError{Path: dir, Err: err}
	}
	return moved, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
