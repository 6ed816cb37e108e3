// Package sqlite stores cache partitions in a SQLite database.
package sqlite
