package selection

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"dochub/internal/domain"
)

// FromPath describes a local file as a FileRef. The mime type is sniffed from the
// content, not taken from the extension.
func FromPath(path string) (domain.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.FileRef{}, err
	}
	if info.IsDir() {
		return domain.FileRef{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.FileRef{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	mime := mt.String()
	if mt.Is(domain.PDFMimeType) {
		mime = domain.PDFMimeType
	}
	return domain.FileRef{Name: filepath.Base(path), Size: info.Size(), MimeType: mime}, nil
}

// FromPaths describes every path, stopping at the first failure.
func FromPaths(paths ...string) ([]domain.FileRef, error) {
	refs := make([]domain.FileRef, 0, len(paths))
	for _, p := range paths {
		ref, err := FromPath(p)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
