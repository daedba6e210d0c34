// Package archive bundles exported images and their integrity manifests
// into single compressed containers.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// CompressionError marks a packaging failure. Packaging is best-effort: the
// originals are left untouched and the backup job's verdict is unaffected.
type CompressionError struct {
	Path string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("failed to package %s: %v", e.Path, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Result describes the outcome of a packaging attempt.
type Result struct {
	Packaged    bool
	ArchivePath string
	Entries     int
}

// Packager creates tar.gz containers for exported images. When a recipient
// is set the container is additionally age-encrypted and named .tar.gz.age.
type Packager struct {
	log       log.FieldLogger
	recipient age.Recipient
}

func NewPackager(logger log.FieldLogger, recipient age.Recipient) *Packager {
	return &Packager{
		log:       logger,
		recipient: recipient,
	}
}

// Package compresses the image at imagePath together with its sibling
// manifest (same stem, .mf) when one exists. On success the originals are
// removed; on failure the partial container is removed and the originals are
// preserved. A missing image is a no-op.
func (p *Packager) Package(imagePath string) (Result, error) {
	if _, err := os.Stat(imagePath); err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, &CompressionError{Path: imagePath, Err: err}
	}

	stem := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	manifestPath := stem + ".mf"
	archivePath := stem + ".tar.gz"
	if p.recipient != nil {
		archivePath += ".age"
	}

	logger := p.log.WithFields(log.Fields{
		"image":   filepath.Base(imagePath),
		"archive": filepath.Base(archivePath),
	})
	logger.Info("📦 Compressing backup")

	entries, err := p.writeArchive(archivePath, imagePath, manifestPath)
	if err != nil {
		// Never leave a half-written container behind.
		os.Remove(archivePath)
		return Result{}, &CompressionError{Path: imagePath, Err: err}
	}

	if entries > 1 {
		logger.WithField("manifest", filepath.Base(manifestPath)).Info("Included manifest file")
	} else {
		logger.Debug("No manifest file present, archiving image only")
	}

	if err := os.Remove(imagePath); err != nil {
		logger.WithError(err).Warn("Failed to remove original image after compression")
	}
	if _, err := os.Stat(manifestPath); err == nil {
		if err := os.Remove(manifestPath); err != nil {
			logger.WithError(err).Warn("Failed to remove manifest after compression")
		}
	}

	logger.Info("✅ Compression complete, removed original file(s)")
	return Result{Packaged: true, ArchivePath: archivePath, Entries: entries}, nil
}

func (p *Packager) writeArchive(archivePath, imagePath, manifestPath string) (int, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var dst io.Writer = f
	var encWriter io.WriteCloser
	if p.recipient != nil {
		encWriter, err = age.Encrypt(f, p.recipient)
		if err != nil {
			return 0, err
		}
		dst = encWriter
	}

	gz := gzip.NewWriter(dst)
	tw := tar.NewWriter(gz)

	entries := 0
	if err := addFile(tw, imagePath); err != nil {
		return 0, err
	}
	entries++

	if _, err := os.Stat(manifestPath); err == nil {
		if err := addFile(tw, manifestPath); err != nil {
			return 0, err
		}
		entries++
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	if encWriter != nil {
		if err := encWriter.Close(); err != nil {
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return entries, nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}
