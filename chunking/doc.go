// Package chunking splits scraped markdown into bounded, overlapping chunks.
//
// Splitting happens in two stages. The document is first cut at ATX headers
// of levels one to four, and every section records the text of its enclosing
// headers under the keys "Header 1" through "Header 4". Sections longer than
// the configured size are then split with a recursive character splitter
// that prefers paragraph, line and word boundaries, in that order.
//
// Sizes are measured in runes. If the structural stage fails the whole text
// is split recursively instead and every chunk is marked as a fallback chunk.
package chunking
