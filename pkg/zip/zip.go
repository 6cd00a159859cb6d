// Package zip builds download archives of slices and upscaled results.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file in an archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Write streams entries as a zip archive to w. Names are flattened to their
// base name and made unique by suffixing a counter. Already-compressed
// formats are stored without deflate.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(used, e.Name)
		hdr := &zip.FileHeader{Name: name, Method: methodFor(name), Modified: e.Modified}
		if hdr.Modified.IsZero() {
			hdr.Modified = time.Now()
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func uniqueName(used map[string]int, name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}

func methodFor(name string) uint16 {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".mp4":
		return zip.Store
	}
	return zip.Deflate
}
