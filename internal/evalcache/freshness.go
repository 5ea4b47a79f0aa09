package evalcache

import (
	"os"
)

// IsFresh reports whether a record's recorded file inputs still match
// their current content on disk and its env inputs are unchanged (spec
// §3 "A record is considered fresh iff..."). Mtime is checked first as a
// fast path; content hash is authoritative on any mtime mismatch.
func IsFresh(rec *Record, currentEnv map[string]string) bool {
	for _, fi := range rec.FileInputs {
		info, err := os.Stat(fi.Path)
		if err != nil {
			return false
		}
		if info.ModTime().UnixNano() == fi.Mtime {
			continue
		}
		hash, err := ContentHash(fi.Path)
		if err != nil || hash != fi.ContentHash {
			return false
		}
	}
	for name, want := range rec.EnvInputs {
		if currentEnv[name] != want {
			return false
		}
	}
	return true
}

// BuildFileInput snapshots a file's current mtime and content hash for
// storage alongside a fresh evaluation record.
func BuildFileInput(path string) (FileInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInput{}, err
	}
	hash, err := ContentHash(path)
	if err != nil {
		return FileInput{}, err
	}
	return FileInput{Path: path, ContentHash: hash, Mtime: info.ModTime().UnixNano()}, nil
}
