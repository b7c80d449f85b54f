// Package ingestion runs sources through the fingerprint ledger, the format
// dispatcher, an extractor, the chunker and finally the sink.
//
// Each source is processed independently on a bounded worker pool:
//   - unchanged sources are skipped without reading their content twice
//   - a source's fingerprint is committed only after the sink accepts its chunks
//   - any failure is recorded in the run Summary and never stops other sources
//
// Only configuration errors abort a run, and they do so before any work starts.
package ingestion
