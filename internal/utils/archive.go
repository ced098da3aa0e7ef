package utils

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CompressDir writes the regular files directly under dir to a tar.gz archive
func CompressDir(dir, targetPath string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	targetFile, err := os.Create(targetPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create target file: %w", err)
	}
	defer targetFile.Close()

	gzipWriter := gzip.NewWriter(targetFile)
	tarWriter := tar.NewWriter(gzipWriter)

	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := addFile(tarWriter, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			return count, err
		}
		count++
	}

	if err := tarWriter.Close(); err != nil {
		return count, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return count, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return count, nil
}

func addFile(tarWriter *tar.Writer, filePath, name string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header: %w", err)
	}
	header.Name = name

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tarWriter, file); err != nil {
		return fmt.Errorf("failed to write file content: %w", err)
	}
	return nil
}

// DecompressFlat extracts the regular files of a tar.gz archive into
// targetDir. Entries with directory components are rejected and existing
// files are left alone.
func DecompressFlat(archivePath, targetDir string) (int, error) {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	if err := os.MkdirAll(targetDir, 0700); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", targetDir, err)
	}

	tarReader := tar.NewReader(gzipReader)
	count := 0
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := header.Name
		if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			return count, fmt.Errorf("refusing archive entry %q", header.Name)
		}

		target := filepath.Join(targetDir, name)
		file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("failed to create file: %w", err)
		}

		_, err = io.Copy(file, tarReader)
		file.Close()
		if err != nil {
			return count, fmt.Errorf("failed to write file content: %w", err)
		}
		count++
	}

	return count, nil
}
