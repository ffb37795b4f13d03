// Package blob abstracts attachment storage. A Store resolves a destination
// folder and uploads files into it; the folder naming convention
// ("FacturaA_{order}") belongs to the caller, not the store.
//
// Two backends exist: the document-drive REST backend used in production
// and an S3 backend where the blob platform is object storage (a folder is
// a key prefix there).
package blob

import "context"

// Store is the blob-storage capability surface.
type Store interface {
	// EnsureFolder finds or creates a folder named name under parentID and
	// returns its handle. Repeated calls with the same arguments return the
	// same handle.
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)

	// Upload stores content as a file named name inside the folder.
	Upload(ctx context.Context, folderID, name string, content []byte) error
}
