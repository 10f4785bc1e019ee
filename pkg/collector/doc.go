// Package collector persists everything a run produces.
//
// Each task gets its own directory under
// runs/v{version}/{strategy}/{vendor}/{model}/{timestamp}_{DECK}_{STAKE}_{SEED}
// holding the task and strategy descriptors, every decision request and
// response in batch-API JSONL form, every observed gamestate, the final
// statistics and the task log. Finished results are also indexed in a
// sqlite database at the root of the output directory.
package collector
