// Package debugfile locates separate debug information files using the
// .build-id directory layout shared by gdb, lldb and the distribution
// debuginfo packages:
//
//	<root>/.build-id/<first byte>/<remaining bytes>.debug
//
// with every byte rendered as two lower case hexadecimal digits.
package debugfile

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/go-delve/buildid/pkg/buildid"
	"github.com/go-delve/buildid/pkg/logflags"
)

const (
	buildIDDir  = ".build-id"
	debugSuffix = ".debug"
)

// Path returns the location of the debug file for id below dir. id must
// not be empty. dir is used as given, a separator is only inserted where
// one is missing.
func Path(dir string, id buildid.Ref) string {
	p := dir
	for _, elem := range []string{buildIDDir, hex.EncodeToString(id[:1]), hex.EncodeToString(id[1:])} {
		if p != "" && !os.IsPathSeparator(p[len(p)-1]) {
			p += string(filepath.Separator)
		}
		p += elem
	}
	return p + debugSuffix
}

// Fetcher looks up debug files in a list of directories.
type Fetcher struct {
	// DebugFileDirectories are the roots searched, in order. If empty
	// DefaultRoot is searched instead.
	DebugFileDirectories []string
}

// NewFetcher returns a Fetcher that searches dirs.
func NewFetcher(dirs []string) *Fetcher {
	return &Fetcher{DebugFileDirectories: dirs}
}

// Directories returns the roots that Fetch searches.
func (f *Fetcher) Directories() []string {
	if len(f.DebugFileDirectories) == 0 {
		return []string{DefaultRoot}
	}
	return f.DebugFileDirectories
}

// Candidates returns every path Fetch would probe for id, in order.
func (f *Fetcher) Candidates(id buildid.Ref) []string {
	if len(id) == 0 {
		return nil
	}
	dirs := f.Directories()
	r := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		r = append(r, Path(dir, id))
	}
	return r
}

// Candidate is a probed debug file path.
type Candidate struct {
	Path  string
	Found bool
}

// Probe checks every candidate path for id, in order, with the same
// existence check Fetch uses.
func (f *Fetcher) Probe(id buildid.Ref) []Candidate {
	paths := f.Candidates(id)
	if len(paths) == 0 {
		return nil
	}
	r := make([]Candidate, 0, len(paths))
	for _, path := range paths {
		r = append(r, Candidate{Path: path, Found: exists(path)})
	}
	return r
}

// Fetch returns the path of the first existing debug file for id. The
// second return value is false if none of the directories contain one.
//
// Calling Fetch with an empty identifier is a programming error, it is
// never reported as found.
func (f *Fetcher) Fetch(id buildid.Ref) (string, bool) {
	logger := logflags.ResolverLogger()
	if len(id) == 0 {
		logger.Warn("debug file lookup requested for an empty build id")
		return "", false
	}
	for _, path := range f.Candidates(id) {
		found := exists(path)
		if logflags.Resolver() {
			logger.WithFields(logflags.Fields{"path": path, "found": found}).Debug("probing debug file")
		}
		if found {
			return path, true
		}
	}
	return "", false
}
