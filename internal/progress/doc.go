// Package progress tracks a run as it happens: processed/total counters
// with periodic logging, a per-host diagnostic report, and the failure-rate
// alert written when too many sites could not be reached.
package progress
