// Package app wires the crossgrid components together and owns the run
// lifecycle: configuration loading, the branch gate, the worker pool run,
// result reporting and the notification boundary.
package app
