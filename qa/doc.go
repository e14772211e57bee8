// Package qa manages curated question/answer pairs.
//
// Each project owns one reserved QA knowledge base, created on first
// use. A QA pair is indexed as a single chunk holding both question
// and answer, so it flows through the same hybrid retrieval as
// document chunks. Questions are deduplicated per project by a hash of
// the normalized question text.
package qa
