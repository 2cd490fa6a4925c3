// Package cache keeps the last price of every watched instrument in Redis.
//
// LastPrice is a router.Sink that coalesces ticks per instrument in memory
// and flushes them as one HSET pipeline per interval. Each instrument is a
// hash at <prefix><SEGMENT>:<ID>.
package cache
