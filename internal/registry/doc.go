// Package registry implements the Subscription Registry.
//
// The registry is the single source of truth for what should be subscribed:
//   - One ref-counted entry per normalized instrument
//   - A consumer -> instruments index for ref counting
//   - An instrument -> consumers index for tick fan-out
//
// The wire connection may lag the registry but is always reconciled to it.
package registry
