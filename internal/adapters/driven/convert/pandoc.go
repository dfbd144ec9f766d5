// Package convert renders markdown to PDF through an external
// converter command, pandoc by default.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
)

var _ driven.Converter = (*Command)(nil)

// outputPlaceholder in an argument is replaced with the rendered
// output path.
const outputPlaceholder = "{output}"

// Command invokes an external converter: markdown on stdin, PDF at the
// substituted output path.
type Command struct {
	name string
	args []string
}

// NewCommand builds a converter around an arbitrary command line.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// NewPandoc builds the default pandoc-based converter.
func NewPandoc() *Command {
	return NewCommand("pandoc", "-f", "markdown", "-o", outputPlaceholder)
}

// Convert renders markdown to PDF.
func (c *Command) Convert(ctx context.Context, markdown []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "mdsync-convert-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConversion, err)
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "out.pdf")
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, outputPlaceholder, outPath)
	}

	cmd := exec.CommandContext(ctx, c.name, args...)
	cmd.Stdin = bytes.NewReader(markdown)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrConversion, c.name, msg)
	}

	pdf, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s produced no output: %w", domain.ErrConversion, c.name, err)
	}
	return pdf, nil
}
