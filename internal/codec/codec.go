// Package codec provides the streaming compression codec used for canonical
// stored objects.
package codec

import "io"

// Codec provides streaming compression and decompression.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	// Close must be called to flush the trailer; it does not close w.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the file extension without dot (e.g., "gz").
	Extension() string
}
