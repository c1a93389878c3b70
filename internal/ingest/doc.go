// Package ingest reads polarization analyzer exports into
// domain.RawSampleTable values.
//
// Analyzer exports are tab-separated text with two preamble lines before
// the header. Instruments and the tools that touch the files afterwards
// write them in several encodings, so the Resolver tries a list of
// candidate encodings in order:
//
//	utf-8, gbk, utf-16le, gb2312, latin-1, cp1252, utf-8-sig
//
// A candidate is accepted when it decodes without replacement or NUL
// characters, the text forms a table, and the header carries every
// required column. When no candidate is accepted the Resolver falls back
// to statistical detection through a Detector (chardet by default).
//
// Failures are *errors.AppError values of type INGESTION with one of the
// reasons EncodingUnresolved, MissingColumn, MalformedRow or FileNotFound.
// Diagnose classifies the leading bytes of a file to explain an encoding
// failure, and Transcode rewrites a legacy-encoded file as UTF-8.
package ingest
