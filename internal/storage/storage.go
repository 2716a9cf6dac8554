// Package storage defines the named-file byte store that recordings are
// written to and read back from. Capture appends frames through it, the
// finalizer rewrites containers through it, and the transcription client
// streams finished containers out of it.
package storage

import (
	"context"
	"io"
)

// File is an open container file positioned for random-access reads.
type File interface {
	io.ReadSeekCloser
}

// Store is a named-file random-access byte store.
//
// Names are forward-slash separated and relative to the store root.
// Missing files are reported with errors wrapping fs.ErrNotExist.
type Store interface {
	// Create opens the named file for writing, truncating any existing content.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Append opens an existing file for writing at its end.
	// Closing the returned writer flushes the data to the medium.
	Append(ctx context.Context, name string) (io.WriteCloser, error)

	// Open opens the named file for reading.
	Open(ctx context.Context, name string) (File, error)

	// Size returns the current length of the named file in bytes.
	Size(ctx context.Context, name string) (int64, error)

	// Remove deletes the named file. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Rename atomically replaces newName with oldName.
	Rename(ctx context.Context, oldName, newName string) error
}
