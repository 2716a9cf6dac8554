// Package capture records a sample source into a WAV container.
//
// An Engine owns at most one recording session. Start writes a header with
// zeroed length fields, each Step appends one transformed frame with an
// open-append-close cycle, and Finish hands the file to the Finalizer which
// patches the length fields through a temp file and an atomic rename.
package capture
