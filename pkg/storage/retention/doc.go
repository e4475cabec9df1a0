// Package retention removes old captures according to the configured
// age and count limits, on demand or on a cron schedule.
package retention
