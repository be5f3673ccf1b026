package elfwriter

const (
	// NoteTypeGNUBuildID is the type of the note carrying the GNU build-id.
	NoteTypeGNUBuildID = 3
	// NoteTypeGNUABITag is the type of the note carrying the ABI tag.
	NoteTypeGNUABITag = 1

	NoteNameGNU = "GNU\x00"
)

// GNUBuildIDNote returns a GNU build-id note with the given descriptor.
func GNUBuildIDNote(id []byte) Note {
	return Note{Type: NoteTypeGNUBuildID, Name: NoteNameGNU, Data: id}
}
