// Package ferrors collects the sentinel errors surfaced across the
// filesystem core, mirroring the teacher's common/errors.go list of POSIX
// errno-style sentinels.
package ferrors

import "errors"

var (
	// ErrNotFound is returned when a path component or trailing name does
	// not exist.
	ErrNotFound = errors.New("no such file or directory")
	// ErrExists is returned on a name collision during create/mkdir.
	ErrExists = errors.New("file exists")
	// ErrNotDir is returned when an interior path component is not a
	// directory.
	ErrNotDir = errors.New("not a directory")
	// ErrIsDir is returned when an operation that requires a regular file
	// is given a directory.
	ErrIsDir = errors.New("is a directory")
	// ErrNotEmpty is returned when removing a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrBusy is returned when removing a directory that is open
	// elsewhere.
	ErrBusy = errors.New("resource busy")
	// ErrNoSpace is returned when the free-sector map cannot satisfy an
	// allocation.
	ErrNoSpace = errors.New("no space left on device")
	// ErrNameTooLong is returned for a path component longer than
	// NAME_MAX.
	ErrNameTooLong = errors.New("file name too long")
	// ErrInvalidPath is returned for a structurally invalid path (empty,
	// or a trailing component missing where one is required).
	ErrInvalidPath = errors.New("invalid path")
)
