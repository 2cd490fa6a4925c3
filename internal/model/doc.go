// Package model defines shared data types used across the feed hub.
//
// Conventions:
//   - Instruments are identified by InstrumentKey (segment + security id string)
//   - Prices: shopspring decimal, converted from the provider's float32 fields
//   - Timestamps: time.Time (exchange time in LTT, local receive time in ReceivedAt)
package model
