// Package syncer reconciles a vault with a remote backend.
//
// The remote holds a reserved manifest.json listing every file record and
// tombstone, sealed blobs under blobs/<id>.<hash> and losing conflict
// versions under conflicts/<id>.<hash>. Blob keys include the content hash,
// so re-pushing a version that is already there is skipped.
//
// A run moves through Diffing, Transferring and Committing. Plan classifies
// each ID without I/O; the engine then pushes, pulls, resolves conflicts and
// propagates tombstones, and finally writes the merged manifest with a
// single Put. Auth failures and cancellation abort before the commit.
// Transient failures are retried by the backend wrapper and, if they persist,
// are reported per ID while the rest of the run continues.
package syncer
