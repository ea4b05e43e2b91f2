// Package extract turns PDF files into plain text using poppler's pdftotext.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const pdfTool = "pdftotext"

// ErrPDFToolNotFound is returned when pdftotext is not on PATH.
var ErrPDFToolNotFound = errors.New("pdftotext not found: install poppler (brew install poppler / apt install poppler-utils)")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- fixed binary, path comes from the source directory listing
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

type PDFToText struct {
	runner   CommandRunner
	lookPath func(string) (string, error)
}

func NewPDFToText() *PDFToText {
	return &PDFToText{runner: execRunner{}, lookPath: exec.LookPath}
}

// NewPDFToTextWithRunner skips the PATH check, so tests can fake the tool.
func NewPDFToTextWithRunner(r CommandRunner) *PDFToText {
	return &PDFToText{runner: r}
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath(pdfTool); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

func (p *PDFToText) Extract(ctx context.Context, path string) (string, error) {
	if p.lookPath != nil {
		if _, err := p.lookPath(pdfTool); err != nil {
			return "", ErrPDFToolNotFound
		}
	}

	out, err := p.runner.Run(ctx, pdfTool, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("pdftotext failed: %w", ctxErr)
		}
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return normalize(string(out)), nil
}

// normalize turns form feeds (page breaks) into paragraph breaks and drops
// trailing spaces left by layout mode.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
