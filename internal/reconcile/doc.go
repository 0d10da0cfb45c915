// Package reconcile builds consistent conversation views from event
// streams that may be delivered more than once.
//
// A View folds stream events into an ordered message list, keyed by a
// processed-event identity so overlapping resume attempts and repeated
// deliveries never duplicate content. Text and reasoning deltas coalesce,
// tool snapshots replace earlier states by call id, and appended messages
// dedup by id.
package reconcile
