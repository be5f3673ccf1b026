package debugfile

// DefaultRoot is searched when no debug file directories are configured.
const DefaultRoot = "/usr/libdata/debug"
