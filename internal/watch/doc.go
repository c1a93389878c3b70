// Package watch converts analyzer exports dropped into a directory.
//
// fsnotify events are filtered through files.Discovery, so the
// converter's own outputs and batch reports never retrigger a run, and
// each file is debounced until its writer has gone quiet.
package watch
