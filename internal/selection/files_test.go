package selection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestFromPathSniffsContent(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, dir, "report.bin", "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n")
	txtPath := writeFile(t, dir, "fake.pdf", "just some notes\n")

	ref, err := FromPath(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, "report.bin", ref.Name)
	assert.Equal(t, domain.PDFMimeType, ref.MimeType)
	assert.Positive(t, ref.Size)

	txt, err := FromPath(txtPath)
	require.NoError(t, err)
	assert.False(t, txt.IsPDF(), "extension alone does not make a PDF")

	b := New()
	assert.Equal(t, 1, b.AddBulk(ref, txt))
}

func TestFromPathsStopsAtMissingFile(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "a.pdf", "%PDF-1.7\n")
	_, err := FromPaths(ok, filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)

	_, err = FromPath(dir)
	assert.Error(t, err)
}
