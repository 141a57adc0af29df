// Package normalisers provides implementations of the Normaliser interface
// for the document formats fagdag ingests. Each normaliser extracts plain
// text from one family of MIME types.
//
// Normalisers are registered with a Registry at startup; the Registry picks
// the highest-priority normaliser for each document.
package normalisers
