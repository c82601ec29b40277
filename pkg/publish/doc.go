// Package publish commits the staged content tree to the publish branch.
//
// Publishing is a two-phase [Transaction]. [Transaction.Prepare] reads the
// branch head, indexes the blobs of the published tree by path, uploads
// blobs only for added and modified paths and assembles the new tree.
// [Transaction.Commit] creates the commit on top of the head read during
// Prepare and advances the branch, failing with [ErrConflict] if the head
// moved in between. Nothing is retried after a conflict: the caller
// restarts from a fresh read.
//
// The git data operations are abstracted by [Backend]. [GitHub] talks to the
// GitHub git data API; [MemoryBackend] keeps everything in memory for tests
// and dry runs.
package publish
