// Package source enumerates the inputs of an ingestion run.
//
// Local inputs are a folder (expanded to its regular files, sorted by name)
// or a single file. Remote inputs are http(s) URLs, downloaded with a
// Fetcher when the pipeline processes them.
package source
