// Package dump keeps a copy of every captured holdings file on disk.
//
// Files land under <dir>/<YYYY-MM-DD>/ as <provider>-<etf>-<name>, next to
// a <same>.meta.yaml describing the capture. Both are written atomically
// (write .tmp then rename) so a reader never sees a partial file.
package dump

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/etfwatch/horosafe"
)

// Metadata describes one captured file.
type Metadata struct {
	ProviderID int64     `yaml:"provider_id"`
	EtfID      int64     `yaml:"etf_id"`
	EtfName    string    `yaml:"etf_name"`
	SourceURL  string    `yaml:"source_url"`
	Format     string    `yaml:"format"`
	Filename   string    `yaml:"filename"`
	SHA256     string    `yaml:"sha256"`
	Bytes      int       `yaml:"bytes"`
	CapturedAt time.Time `yaml:"captured_at"`
}

// Writer deposits captured files into a dump directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a Writer rooted at dir. An empty dir disables the
// writer: Write becomes a no-op.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Enabled reports whether files are kept.
func (w *Writer) Enabled() bool { return w != nil && w.dir != "" }

// Write stores data and its metadata. It returns the data file path, or ""
// when the writer is disabled.
func (w *Writer) Write(ctx context.Context, meta Metadata, data []byte) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if meta.CapturedAt.IsZero() {
		meta.CapturedAt = w.now()
	}
	meta.CapturedAt = meta.CapturedAt.UTC()
	sum := sha256.Sum256(data)
	meta.SHA256 = hex.EncodeToString(sum[:])
	meta.Bytes = len(data)

	day := filepath.Join(w.dir, meta.CapturedAt.Format(time.DateOnly))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", fmt.Errorf("dump: mkdir %s: %w", day, err)
	}
	name := horosafe.SafeFilename(fmt.Sprintf("%d-%d-%s", meta.ProviderID, meta.EtfID, meta.Filename))
	target, err := horosafe.SafePath(day, name)
	if err != nil {
		return "", fmt.Errorf("dump: %w", err)
	}

	side, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("dump: metadata: %w", err)
	}
	if err := writeAtomic(target, data); err != nil {
		return "", err
	}
	if err := writeAtomic(target+".meta.yaml", side); err != nil {
		return "", err
	}
	return target, nil
}

func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("dump: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dump: rename: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar of a dumped file.
func ReadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path + ".meta.yaml")
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dump: parse metadata: %w", err)
	}
	return &m, nil
}
