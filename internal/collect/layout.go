package collect

import "path/filepath"

// Layout resolves the on-disk paths owned by each slug under the output root.
type Layout struct {
	OutputDir  string
	ConfigsDir string
	// ConfigExt is the extension of generated config files, without the dot.
	ConfigExt string
}

// Dir is the per-slug output directory.
func (l Layout) Dir(slug string) string {
	return filepath.Join(l.OutputDir, slug)
}

// DocumentPath is the slug's ResultDocument.
func (l Layout) DocumentPath(slug string) string {
	return filepath.Join(l.OutputDir, slug, slug+".json")
}

// BackupPath is the single-generation backup of the ResultDocument.
func (l Layout) BackupPath(slug string) string {
	return l.DocumentPath(slug) + ".bak"
}

// LedgerPath is the worker-owned seen-ids ledger.
func (l Layout) LedgerPath(slug string) string {
	return filepath.Join(l.OutputDir, slug, slug+".ids")
}

// ConfigPath is where the slug's materialized RunConfig is written.
func (l Layout) ConfigPath(slug string) string {
	ext := l.ConfigExt
	if ext == "" {
		ext = "yaml"
	}
	return filepath.Join(l.ConfigsDir, slug+"."+ext)
}
