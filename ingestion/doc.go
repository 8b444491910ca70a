// Package ingestion turns submitted URLs into indexed chunks.
//
// A Submitter records a pending Job and pushes it onto the job queue. A
// Worker pops jobs and runs each one through four sequential stages:
//
//   - scrape: fetch the page as markdown
//   - chunk: split the markdown into bounded segments
//   - embed: compute one vector per chunk
//   - index: store chunk content, then upsert the vectors
//
// Every stage must produce output for the next one to run. The job record
// is the source of truth for progress; the queue only transports jobs.
// Status moves pending, processing, then completed or failed.
package ingestion
