package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
)

const (
	manifestFile = "tape_manifest.json"
	entriesFile  = "tape_entries.json"
)

// WriteManifest writes tape_manifest.json to the given directory.
func WriteManifest(dir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tape manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), data, 0600)
}

// ReadManifest reads tape_manifest.json from the given directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read tape manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse tape manifest: %w", err)
	}
	return &manifest, nil
}

// Save writes the recorder's entries and manifest to dir.
func (r *Recorder) Save(dir string) error {
	entries := r.Entries()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tape entries: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, entriesFile), data, 0600); err != nil {
		return fmt.Errorf("write tape entries: %w", err)
	}
	return WriteManifest(dir, buildManifest(r.tapeID, entries))
}

// Load reads a tape saved with Recorder.Save and checks it against its
// manifest. A tape that fails the check is not returned.
func Load(dir string) (*Replayer, error) {
	data, err := os.ReadFile(filepath.Join(dir, entriesFile))
	if err != nil {
		return nil, fmt.Errorf("read tape entries: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse tape entries: %w", err)
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if issues := VerifyManifestIntegrity(entries, manifest); len(issues) > 0 {
		return nil, fmt.Errorf("tape %s failed integrity check: %v", manifest.TapeID, issues)
	}
	return NewReplayer(entries), nil
}

// VerifyManifestIntegrity checks every manifest item against the hashes
// recomputed from its entry.
func VerifyManifestIntegrity(entries []Entry, manifest *Manifest) []string {
	var issues []string
	entryMap := make(map[uint64]*Entry, len(entries))
	for i := range entries {
		entryMap[entries[i].Seq] = &entries[i]
	}

	for _, item := range manifest.Entries {
		entry, ok := entryMap[item.Seq]
		if !ok {
			issues = append(issues, fmt.Sprintf("seq=%d referenced in manifest but not in entries", item.Seq))
			continue
		}
		if computed := canonicalize.HashBytes([]byte(entry.Request)); computed != item.RequestHash {
			issues = append(issues, fmt.Sprintf("seq=%d request hash mismatch: expected %s, got %s", item.Seq, item.RequestHash, computed))
		}
		if entry.Type == EntryTypeTransportError {
			continue
		}
		if computed := canonicalize.HashBytes([]byte(entry.Response)); computed != item.ResponseHash {
			issues = append(issues, fmt.Sprintf("seq=%d response hash mismatch: expected %s, got %s", item.Seq, item.ResponseHash, computed))
		}
	}
	return issues
}
