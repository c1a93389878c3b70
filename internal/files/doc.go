// Package files finds analyzer exports on disk and stores uploaded ones.
//
// Discovery filters directories, globs and explicit paths down to accepted
// input extensions (.txt, .csv, .dat, .xlsx by default) and can exclude the
// converter's own output suffix. Manager keeps HTTP uploads under the
// uploads directory with a unique prefix so concurrent sessions never
// collide.
package files
