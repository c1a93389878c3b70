// Package exporter writes conversion results as comma-separated text.
//
// CSVWriter is the low-level writer: headers, records, an optional UTF-8
// byte order mark so spreadsheet tools detect the encoding, and a
// StreamWriter for reports written row by row.
//
// StokesExport joins a StokesTable with its PropertyTable by sample number
// and renders the exported columns:
//
//	No,S0,S1,S2,S3,DOP_calculated,Azimuth_original [°],PER_original [dB],Intensity_original [%]
//
// followed, when properties are included, by
//
//	DOP [%],Azimuth_calculated [°],Ellipticity_angle [°],Ellipticity_ratio,Linear_DOP [%],Circular_DOP [%]
//
// Floats are written with the shortest representation that reads back to
// the same value. NaN is an empty cell and infinities are inf and -inf.
package exporter
