// Package history stores the results of finished sessions in sqlite3 or
// postgres and serves the most recent ones back to the admin API.
package history
