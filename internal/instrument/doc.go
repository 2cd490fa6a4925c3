// Package instrument normalizes loosely-typed instrument references into the
// canonical provider key (ExchangeSegment enum + string SecurityId).
//
// Normalization is the boundary check for the whole hub: anything that fails
// here never reaches the subscription registry.
package instrument
