// Package memory holds per-context conversational state: short-term turns,
// persisted long-term facts and rolling compaction summaries. The Store
// interface decouples fact persistence from the Memory type; select an
// implementation (in-memory, file backed, or your own) at wiring time.
//
// Compaction runs asynchronously through the Compactor, which collapses old
// conversation rounds into a single summary produced by an auxiliary backend
// call while the main loop keeps running.
package memory
