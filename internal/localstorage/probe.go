package localstorage

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
)

// ProbeResult is the outcome of scanning candidate directories. Found is
// false when no candidate matched; Inspected lists every candidate looked
// at, in order, with the reason it was rejected.
type ProbeResult struct {
	Found     bool
	Name      string
	Inspected []Candidate
}

// Candidate records why a directory was or was not accepted
type Candidate struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ProbeOrigin scans root for the salted directory belonging to origin. See
// ProbeOriginFS.
func ProbeOrigin(root string, origin Origin) (ProbeResult, error) {
	return ProbeOriginFS(os.DirFS(root), origin)
}

// ProbeOriginFS scans the top level of fsys. A directory <name> is accepted
// when <name>/<name>/origin contains both the scheme and the host. The
// sentinel is a binary blob with control-code separators, so only substring
// containment is checked. The first match wins and later candidates are not
// opened.
//
// A failure to list fsys is returned as an error wrapping
// ErrIntermediateDirectoryNotFound; unreadable sentinels only reject their
// candidate.
func ProbeOriginFS(fsys fs.FS, origin Origin) (ProbeResult, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrIntermediateDirectoryNotFound, err)
	}

	var result ProbeResult
	for _, entry := range entries {
		name := entry.Name()
		if !isDir(fsys, entry) {
			result.Inspected = append(result.Inspected, Candidate{Name: name, Reason: "not a directory"})
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(name, name, originFileName))
		if err != nil {
			result.Inspected = append(result.Inspected, Candidate{Name: name, Reason: "no readable origin file"})
			continue
		}

		if !bytes.Contains(content, []byte(origin.Scheme)) || !bytes.Contains(content, []byte(origin.Host)) {
			result.Inspected = append(result.Inspected, Candidate{Name: name, Reason: "origin does not match"})
			continue
		}

		result.Inspected = append(result.Inspected, Candidate{Name: name, Reason: "match"})
		result.Found = true
		result.Name = name
		return result, nil
	}
	return result, nil
}

func isDir(fsys fs.FS, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := fs.Stat(fsys, entry.Name())
	return err == nil && info.IsDir()
}
