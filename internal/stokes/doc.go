// Package stokes converts polarization analyzer samples into Stokes
// vectors and back.
//
// Forward maps intensity, degree of polarization, azimuth and the
// polarization extinction ratio of every sample onto S0–S3. DeriveProperties
// inverts the mapping to recompute DOP, azimuth and ellipticity, and
// RoundTrip compares those against the measured values to expose
// instrument or ingestion anomalies. Row order is preserved throughout and
// rows never influence each other; non-finite results stay NaN or Inf.
//
// Session holds the current tables of one pipeline (load, convert,
// properties, save, summary). Loading swaps the whole state, so a Stokes
// table is never paired with samples from another file. Independent files
// use independent sessions.
package stokes
