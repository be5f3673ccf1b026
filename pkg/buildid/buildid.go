// Package buildid extracts the unique build identifier of ELF and COFF
// binaries.
//
// ELF files are identified by the descriptor of their GNU build-id note,
// COFF files by the GUID and age of their PDB 7.0 CodeView record. Neither
// extractor ever fails: a missing or malformed identifier is reported as an
// empty result.
package buildid

import (
	"bytes"
	"encoding/hex"

	"github.com/go-delve/buildid/pkg/objfile"
)

// BuildID is an owned build identifier. An empty BuildID means that no
// identifier was found.
type BuildID []byte

// Ref is a build identifier that aliases the contents of the file it was
// read from. It is only valid until that file is closed, use Clone to keep
// it longer.
type Ref []byte

// String returns the identifier as lower case hexadecimal.
func (id BuildID) String() string {
	return hex.EncodeToString(id)
}

// Equal reports whether id and other contain the same bytes.
func (id BuildID) Equal(other BuildID) bool {
	return bytes.Equal(id, other)
}

// Ref returns a view of id.
func (id BuildID) Ref() Ref {
	return Ref(id)
}

// String returns the identifier as lower case hexadecimal.
func (r Ref) String() string {
	return hex.EncodeToString(r)
}

// Clone returns a copy of r that does not alias the file it was read from.
func (r Ref) Clone() BuildID {
	if len(r) == 0 {
		return nil
	}
	return append(BuildID(nil), r...)
}

// Parse decodes a hexadecimal build identifier. It returns an empty BuildID
// if s has odd length or contains anything but hex digits.
func Parse(s string) BuildID {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return nil
	}
	return BuildID(b)
}

// Get returns the GNU build-id of an ELF file, in any of its four
// class/byte order variants. For any other format it returns an empty Ref.
// The result aliases f.
func Get(f *objfile.File) Ref {
	if !f.Format().IsELF() {
		return nil
	}
	return elfBuildID(f)
}

// COFFDebugID returns the 20 byte GUID+age identifier of a COFF file, or an
// empty BuildID if f is not a COFF file or carries no PDB 7.0 CodeView
// record.
func COFFDebugID(f *objfile.File) BuildID {
	if f.Format() != objfile.FormatCOFF {
		return nil
	}
	cv := CodeViewInfo(f)
	if cv == nil {
		return nil
	}
	return cv.DebugID()
}

// Lookup returns the identifier of f regardless of its format: the GNU
// build-id of ELF files, the GUID+age of COFF files.
func Lookup(f *objfile.File) BuildID {
	if f.Format() == objfile.FormatCOFF {
		return COFFDebugID(f)
	}
	return Get(f).Clone()
}
