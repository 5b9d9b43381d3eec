// Package auditlog records one rotating, retention-managed log file per AP
// boot session — the dispatcher's command outcomes, not raw terminal bytes. It follows a
// basePath/session-directory/current.log-symlink/retention-by-mtime shape.
// An AP audit line is a discrete %-prefixed protocol message, never a raw
// terminal stream, so there's no ANSI/cursor escaping or spinner-line
// dedup to clean up here.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Writer appends audit lines to one current log file per session and
// reclaims files past the configured retention window.
type Writer struct {
	basePath      string
	retentionDays int

	mu    sync.Mutex
	files map[string]*os.File
}

// NewWriter returns a Writer rooted at basePath. retentionDays <= 0 disables
// Cleanup.
func NewWriter(basePath string, retentionDays int) *Writer {
	return &Writer{
		basePath:      basePath,
		retentionDays: retentionDays,
		files:         make(map[string]*os.File),
	}
}

// Write appends line (a single already-formatted audit line, no trailing
// newline required) to session's current log file, creating it and its
// current.log symlink if this is the session's first write.
func (w *Writer) Write(session, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.getOrCreateFile(session)
	if err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	_, err = f.WriteString(line)
	return err
}

func (w *Writer) getOrCreateFile(session string) (*os.File, error) {
	if f, ok := w.files[session]; ok {
		return f, nil
	}

	dir := filepath.Join(w.basePath, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create session dir: %w", err)
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: create log file: %w", err)
	}
	w.files[session] = f

	symlink := filepath.Join(dir, "current.log")
	os.Remove(symlink)
	os.Symlink(filename, symlink)

	log.Infof("auditlog: opened session log %s", path)
	return f, nil
}

// Rotate closes the session's current file, so the next Write starts a new
// one.
func (w *Writer) Rotate(session string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.files[session]; ok {
		f.Close()
		delete(w.files, session)
	}
}

// Cleanup removes log files older than the configured retention window.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	sessions, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}
	for _, session := range sessions {
		if !session.IsDir() {
			continue
		}
		dir := filepath.Join(w.basePath, session.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				path := filepath.Join(dir, entry.Name())
				os.Remove(path)
				log.Infof("auditlog: removed expired log %s", path)
			}
		}
	}
}

// Close closes every open session file.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, f := range w.files {
		f.Close()
		delete(w.files, name)
	}
}
