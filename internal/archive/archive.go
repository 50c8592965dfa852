package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const archiveDirPerm os.FileMode = 0o750

// Bundle writes the given files into a zip at destZipPath, flattened
// to their base names. Used to normalize multi-file job outputs into a
// single downloadable artifact.
func Bundle(destZipPath string, files []string) error {
	if len(files) == 0 {
		return errors.New("no files to bundle")
	}

	if err := os.MkdirAll(filepath.Dir(destZipPath), archiveDirPerm); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	zipFile, err := os.Create(destZipPath) //nolint:gosec // path is constructed by the application
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer func() { _ = zipFile.Close() }()

	zipWriter := zip.NewWriter(zipFile)
	seen := make(map[string]int, len(files))
	for _, file := range files {
		if err := addFile(zipWriter, file, entryName(seen, file)); err != nil {
			_ = zipWriter.Close()
			return err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	return nil
}

func addFile(zipWriter *zip.Writer, srcPath, name string) error {
	src, err := os.Open(srcPath) //nolint:gosec // worker-produced path
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	entry, err := zipWriter.Create(name)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, src); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

// entryName deduplicates base names so two outputs called out.mp3 from
// different directories both survive in the archive.
func entryName(seen map[string]int, file string) string {
	base := filepath.Base(file)
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s-%d%s", stem, n+1, ext)
}
