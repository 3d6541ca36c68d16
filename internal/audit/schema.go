package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS alarm_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL CHECK(kind IN ('attack', 'policy')),
			check_type TEXT NOT NULL,
			policy_id INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL CHECK(action IN ('ignore', 'log', 'block')),
			plugin TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			confidence INTEGER NOT NULL DEFAULT 0,
			url TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_update
		BEFORE UPDATE ON alarm_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on alarm_log');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_delete
		BEFORE DELETE ON alarm_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on alarm_log');
		END`

	indexTimestamp = `
		CREATE INDEX IF NOT EXISTS idx_timestamp ON alarm_log(timestamp DESC)`

	indexRequest = `
		CREATE INDEX IF NOT EXISTS idx_request ON alarm_log(request_id)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexTimestamp,
		indexRequest,
	}
}
