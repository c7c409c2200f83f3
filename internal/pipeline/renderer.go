package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// renderDPI is high enough for small print on lab reports while keeping
// page images under typical vision-model size limits.
const renderDPI = 300

// PageRenderer renders PDF pages to image files.
type PageRenderer interface {
	PageCount(pdfPath string) (int, error)
	RenderPage(ctx context.Context, pdfPath string, pageNum int, destPath string) error
}

// PopplerRenderer rasterizes pages by shelling out to pdftoppm. Page counts
// come from pdfcpu so corrupt PDFs fail before any rendering starts.
type PopplerRenderer struct {
	logger *slog.Logger
}

// NewPopplerRenderer creates a renderer backed by poppler-utils.
func NewPopplerRenderer(logger *slog.Logger) *PopplerRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerRenderer{logger: logger}
}

// PageCount returns the number of pages in the PDF.
func (r *PopplerRenderer) PageCount(pdfPath string) (int, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages in %s: %w", pdfPath, err)
	}
	return count, nil
}

// RenderPage rasterizes a single page to destPath. An existing image is left
// in place so interrupted runs resume without re-rendering.
func (r *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, pageNum int, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "medshelf-render-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	p := strconv.Itoa(pageNum)
	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-jpeg", "-jpegopt", "quality=95",
		"-f", p, "-l", p,
		"-r", strconv.Itoa(renderDPI),
		"-singlefile",
		pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm failed for page %d of %s: %w (output: %s)",
			pageNum, pdfPath, err, string(out))
	}

	src, err := os.Open(prefix + ".jpg")
	if err != nil {
		return fmt.Errorf("pdftoppm produced no output for page %d: %w", pageNum, err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create page image: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	r.logger.Debug("rendered page", "pdf", filepath.Base(pdfPath), "page", pageNum)
	return nil
}

var _ PageRenderer = (*PopplerRenderer)(nil)
