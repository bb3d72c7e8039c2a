// Package bundle holds the aggregate output of one run and its json backup.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"pagebundle/internal/extract"
	"pagebundle/pkg/osutil"
)

const DefaultBackupFile = "output.json"

// Bundle is what a run produces for a page. ArchivePath and Images point at
// local files and never end up in json.
type Bundle struct {
	PageTitle       string             `json:"page_title"`
	MetaTitle       string             `json:"meta_title"`
	MetaDescription string             `json:"meta_description"`
	Permalink       string             `json:"permalink"`
	Content         string             `json:"content"`
	Meta            extract.MetaRecord `json:"meta"`

	// ArchivePath is the zip of the image folder, set in zip mode.
	ArchivePath string `json:"-"`
	// Images are the downloaded image files, set in inline mode.
	Images []string `json:"-"`
}

// Field is a named text value of the bundle.
type Field struct {
	Name  string
	Value string
}

// Fields returns the text fields in the order they are transmitted.
func (b Bundle) Fields() []Field {
	return []Field{
		{Name: "page_title", Value: b.PageTitle},
		{Name: "meta_title", Value: b.MetaTitle},
		{Name: "meta_description", Value: b.MetaDescription},
		{Name: "permalink", Value: b.Permalink},
		{Name: "content", Value: b.Content},
	}
}

// MarshalIndent encodes the bundle with 4 space indentation and without
// escaping html, content is markup and should stay readable.
func (b Bundle) MarshalIndent() ([]byte, error) {
	var buffer bytes.Buffer
	enc := json.NewEncoder(&buffer)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return buffer.Bytes(), nil
}

// WriteBackup writes the json form of the bundle to path.
func (b Bundle) WriteBackup(path string) error {
	content, err := b.MarshalIndent()
	if err != nil {
		return err
	}
	_, err = osutil.WriteFile(path, bytes.NewReader(content))
	return err
}
