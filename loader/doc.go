// Package loader extracts text from uploaded files (PDF, CSV, plain
// text, markdown) and splits it into overlapping segments sized for
// embedding.
package loader
