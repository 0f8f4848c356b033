package vehstatus

// Time-driven maintenance over vehicle_statuses. These jobs are best-effort
// hygiene: storage errors are logged and swallowed, the next tick retries.
// All date comparisons use the local clock, the same one the midnight
// scheduler fires on.

// ResetDailyTexts clears the free-text daily status wherever status_date is
// not today. One rule for both the midnight run and process start: anything
// stamped on a different day (or never stamped but carrying text) is stale.
func (e *Engine) ResetDailyTexts() {
	_, err := e.db.Exec(`
		UPDATE vehicle_statuses
		   SET status_text  = '',
		       status_date  = NULL,
		       last_updated = datetime('now')
		 WHERE (status_text <> '' OR status_date IS NOT NULL)
		   AND (status_date IS NULL OR status_date <> DATE('now', 'localtime'))`)
	if err != nil {
		e.logger.Error("vehstatus: daily reset failed", "error", err)
	}
}

// RetireUnloaded48h deletes every row flagged unloaded whose unload date is
// more than 48 hours old. Rows with unloaded = 0 are never touched.
func (e *Engine) RetireUnloaded48h() {
	_, err := e.db.Exec(`
		DELETE FROM vehicle_statuses
		 WHERE unloaded = 1
		   AND unload_date IS NOT NULL
		   AND DATE(unload_date) < DATE('now', 'localtime', '-2 days')`)
	if err != nil {
		e.logger.Error("vehstatus: 48h retirement failed", "error", err)
	}
}

// RetireCompletedGroups48h deletes whole request groups where every row is
// unloaded and the latest unload date across the group is more than 48
// hours old. Rows with no unload date count as today, keeping the group.
func (e *Engine) RetireCompletedGroups48h() {
	_, err := e.db.Exec(`
		DELETE FROM vehicle_statuses
		 WHERE request_id IN (
			SELECT request_id
			  FROM vehicle_statuses
			 GROUP BY request_id
			HAVING MIN(unloaded) = 1
			   AND MAX(DATE(COALESCE(unload_date, DATE('now', 'localtime')))) < DATE('now', 'localtime', '-2 days')
		 )`)
	if err != nil {
		e.logger.Error("vehstatus: group retirement failed", "error", err)
	}
}
