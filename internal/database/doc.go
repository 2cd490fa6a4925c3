// Package database manages the PostgreSQL pool used by the tick archive.
//
// The archive is optional: when database.enabled is false nothing here is
// touched. EnsureSchema creates the ticks table on startup.
package database
