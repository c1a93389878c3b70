// Package shared holds helpers used by more than one package. Test
// fixtures for analyzer exports and the buffered slog handler live in
// testutil.
package shared
