// Package stores persists what sysmaint did: the last-run StateRecord as an
// atomically replaced JSON file, an optional SQLite journal of runs and log
// events, and the advisory locks that keep two invocations apart.
package stores
