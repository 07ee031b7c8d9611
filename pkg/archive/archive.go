// Package archive reads and writes the gzip compressed tarballs a node
// publishes from its ledger directory.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

var ErrMissingEntry = errors.New("archive entry missing")

// maxEntrySize bounds a single decompressed entry.
const maxEntrySize = 1 << 32

type Entry struct {
	Name string
	Data []byte
}

// Write streams entries into w as a tar.gz, in order.
func Write(w io.Writer, entries []Entry) error {
	gzipWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzipWriter)

	modTime := time.Unix(0, 0)
	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.Name,
			Mode:     0644,
			Size:     int64(len(entry.Data)),
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		err := tarWriter.WriteHeader(header)
		if err != nil {
			return fmt.Errorf("writing header for %s: %w", entry.Name, err)
		}
		_, err = tarWriter.Write(entry.Data)
		if err != nil {
			return fmt.Errorf("writing %s: %w", entry.Name, err)
		}
	}

	err := tarWriter.Close()
	if err != nil {
		return err
	}
	return gzipWriter.Close()
}

// WriteFile writes entries to a temporary file next to path and renames it
// into place, so readers never observe a partial archive.
func WriteFile(path string, entries []Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = Write(tmp, entries)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Sync()
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Walk calls fn for every regular file in the tar.gz read from r.
func Walk(r io.Reader, fn func(name string, data []byte) error) error {
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if header.Size > maxEntrySize {
			return fmt.Errorf("entry %s too large: %d bytes", header.Name, header.Size)
		}

		writer := new(bytes.Buffer)
		_, err = io.Copy(writer, tarReader)
		if err != nil {
			return fmt.Errorf("reading %s: %w", header.Name, err)
		}

		err = fn(header.Name, writer.Bytes())
		if err != nil {
			return err
		}
	}
}

// ReadFile returns every entry of the archive at path keyed by name.
func ReadFile(path string) (map[string][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make(map[string][]byte)
	err = Walk(file, func(name string, data []byte) error {
		entries[name] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
