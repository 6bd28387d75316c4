// Command loom runs the batch generation pipeline: it drafts items in
// batches, integrates them transactionally into a JSON store, and checkpoints
// progress so interrupted runs resume where they stopped.
package main
