// Package reindex rebuilds vector index entries from the content store.
//
// Stored chunks are re-embedded in batches and upserted by chunk id. This is
// how an operator moves to a new embedding model or fills a freshly created
// vector backend without scraping the source pages again. Progress is
// reported to a writer, and embedding calls are retried with exponential
// backoff.
package reindex
