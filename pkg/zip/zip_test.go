package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestWriteArchive(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Name: "task-1-s00.png", Data: []byte("png-a")},
		{Name: "../task-1-s00.png", Data: []byte("png-b")},
		{Name: "notes.txt", Data: []byte("hello hello hello")},
		{Name: "", Data: []byte("x")},
	}
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := []string{"task-1-s00.png", "task-1-s00-2.png", "notes.txt", "file"}
	if len(zr.File) != len(want) {
		t.Fatalf("files = %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Fatalf("file %d = %q, want %q", i, f.Name, want[i])
		}
	}
	if zr.File[0].Method != zip.Store || zr.File[2].Method != zip.Deflate {
		t.Fatalf("methods = %d %d", zr.File[0].Method, zr.File[2].Method)
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "png-b" {
		t.Fatalf("entry data = %q", data)
	}
}
