// Package attachments is a content-addressed blob store.
//
// Blobs are named by the lowercase hex SHA-256 of their bytes and sharded by
// the first two bytes of the digest:
//
//	<root>/a3/f9/a3f9b2c1e7d4...
//
// Identical content always lands on the same path, so a second Store of the
// same bytes is a no-op. Writes go to a temp file under <root>/.tmp, are
// fsynced, and are renamed into place; a reader never observes a partial
// blob. Blobs carry no metadata; callers keep the Attachment descriptor
// returned by Put alongside whatever references the blob.
package attachments
