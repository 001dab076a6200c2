package toolbox

import (
	"context"
	"io"
)

// ArchiveStore persists downloaded result archives. Implementations must be
// safe for concurrent use. Put returns where the object was written (a file
// path or an object URL).
type ArchiveStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
