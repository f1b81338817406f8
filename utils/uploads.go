package utils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	SpreadsheetExts = []string{".xlsx", ".xls"}
	AttachmentExts  = []string{
		".pdf", ".doc", ".docx", ".xls", ".xlsx",
		".ppt", ".pptx", ".txt", ".csv", ".zip",
		".jpg", ".jpeg", ".png", ".gif",
	}
)

// HasAllowedExt reports whether name ends in one of the allowed extensions, case-insensitively.
func HasAllowedExt(name string, allowed []string) bool {
	return slices.Contains(allowed, strings.ToLower(filepath.Ext(name)))
}

// TempFile is an uploaded file copied to disk and owned by a single request.
// Release is idempotent and safe on a nil receiver.
type TempFile struct {
	Path string // location on disk
	Name string // client-supplied file name
	Size int64

	once sync.Once
	err  error
}

// SaveUpload copies an uploaded part into dir as "<field>-<uuid><ext>".
func SaveUpload(fh *multipart.FileHeader, dir, field string) (*TempFile, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	path := filepath.Join(dir, field+"-"+uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to store upload %s: %w", fh.Filename, err)
	}

	return &TempFile{Path: path, Name: filepath.Base(fh.Filename), Size: n}, nil
}

// Release deletes the file. A file that is already gone is not an error.
func (f *TempFile) Release() error {
	if f == nil {
		return nil
	}
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("failed to delete temp file %s: %w", f.Path, err)
		}
	})
	return f.err
}
