// Package device registers rendered documents with the tablet's
// document UI, so pushed files show up in the reading list instead of
// sitting invisibly on the filesystem.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

// xochitlDir is where the tablet's document UI keeps its registry.
const xochitlDir = "/home/root/.local/share/remarkable/xochitl"

// documentMetadata mirrors the UI's .metadata sidecar format.
type documentMetadata struct {
	Deleted          bool   `json:"deleted"`
	LastModified     string `json:"lastModified"`
	MetadataModified bool   `json:"metadatamodified"`
	Modified         bool   `json:"modified"`
	Parent           string `json:"parent"`
	Pinned           bool   `json:"pinned"`
	Synced           bool   `json:"synced"`
	Type             string `json:"type"`
	Version          int    `json:"version"`
	VisibleName      string `json:"visibleName"`
}

// documentContent mirrors the UI's .content sidecar format.
type documentContent struct {
	FileType string `json:"fileType"`
}

// Registrar manages UI registry entries for uploaded documents. The UI
// only notices registry changes on restart, so callers batch their
// registrations and call Restart once per sync cycle.
type Registrar struct {
	shell driven.RemoteShell

	now   func() time.Time
	newID func() string
}

func NewRegistrar(shell driven.RemoteShell) *Registrar {
	return &Registrar{
		shell: shell,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Register uploads localPDF as a new UI document titled title and
// returns the generated document id.
func (r *Registrar) Register(ctx context.Context, localPDF, title string) (string, error) {
	docID := r.newID()
	if err := r.shell.Upload(ctx, localPDF, path.Join(xochitlDir, docID+".pdf")); err != nil {
		return "", fmt.Errorf("register %q: %w", title, err)
	}
	if err := r.writeSidecars(ctx, docID, title); err != nil {
		return "", fmt.Errorf("register %q: %w", title, err)
	}
	logger.Info("registered %q with the device UI as %s", title, docID)
	return docID, nil
}

// Update replaces the PDF payload of an existing UI document and bumps
// its modification time.
func (r *Registrar) Update(ctx context.Context, docID, localPDF, title string) error {
	if err := r.shell.Upload(ctx, localPDF, path.Join(xochitlDir, docID+".pdf")); err != nil {
		return fmt.Errorf("update document %s: %w", docID, err)
	}
	if err := r.writeSidecars(ctx, docID, title); err != nil {
		return fmt.Errorf("update document %s: %w", docID, err)
	}
	return nil
}

// FindByTitle returns the id of the UI document with the given visible
// name, or domain.ErrNotFound.
func (r *Registrar) FindByTitle(ctx context.Context, title string) (string, error) {
	needle, err := json.Marshal(title)
	if err != nil {
		return "", fmt.Errorf("find document %q: %w", title, err)
	}
	command := fmt.Sprintf("grep -lF %s %s/*.metadata",
		shellQuote(fmt.Sprintf(`"visibleName":%s`, needle)), xochitlDir)

	result, err := r.shell.Execute(ctx, command)
	if err != nil {
		return "", fmt.Errorf("find document %q: %w", title, err)
	}
	if !result.Success() || strings.TrimSpace(result.Stdout) == "" {
		return "", fmt.Errorf("document %q: %w", title, domain.ErrNotFound)
	}

	first := strings.SplitN(strings.TrimSpace(result.Stdout), "\n", 2)[0]
	return strings.TrimSuffix(path.Base(first), ".metadata"), nil
}

// Remove deletes a UI document and all its sidecar files.
func (r *Registrar) Remove(ctx context.Context, docID string) error {
	result, err := r.shell.Execute(ctx, fmt.Sprintf("rm -rf %s/%s*", xochitlDir, shellQuote(docID)))
	if err != nil {
		return fmt.Errorf("remove document %s: %w", docID, err)
	}
	if !result.Success() {
		return fmt.Errorf("remove document %s: %w: %s", docID, domain.ErrRemoteIO, result.Stderr)
	}
	return nil
}

// Rename updates the visible name of an existing UI document.
func (r *Registrar) Rename(ctx context.Context, docID, title string) error {
	if err := r.writeMetadata(ctx, docID, title); err != nil {
		return fmt.Errorf("rename document %s: %w", docID, err)
	}
	return nil
}

// Restart restarts the UI process so it picks up registry changes.
func (r *Registrar) Restart(ctx context.Context) error {
	result, err := r.shell.Execute(ctx, "systemctl restart xochitl")
	if err != nil {
		return fmt.Errorf("restart device ui: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("restart device ui: %w: %s", domain.ErrRemoteIO, result.Stderr)
	}
	return nil
}

func (r *Registrar) writeSidecars(ctx context.Context, docID, title string) error {
	if err := r.writeMetadata(ctx, docID, title); err != nil {
		return err
	}
	content, err := json.Marshal(documentContent{FileType: "pdf"})
	if err != nil {
		return err
	}
	return r.writeRemote(ctx, path.Join(xochitlDir, docID+".content"), content)
}

func (r *Registrar) writeMetadata(ctx context.Context, docID, title string) error {
	meta, err := json.Marshal(documentMetadata{
		LastModified: fmt.Sprintf("%d", r.now().UnixMilli()),
		Synced:       true,
		Type:         "DocumentType",
		Version:      1,
		VisibleName:  title,
	})
	if err != nil {
		return err
	}
	return r.writeRemote(ctx, path.Join(xochitlDir, docID+".metadata"), meta)
}

func (r *Registrar) writeRemote(ctx context.Context, remotePath string, content []byte) error {
	command := fmt.Sprintf("printf '%%s' %s > %s", shellQuote(string(content)), shellQuote(remotePath))
	result, err := r.shell.Execute(ctx, command)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("write %s: %w: %s", remotePath, domain.ErrRemoteIO, result.Stderr)
	}
	return nil
}

// shellQuote single-quotes s for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
