package audit

const (
	queryInsertAlarm = `
		INSERT INTO alarm_log (request_id, kind, check_type, policy_id, action, plugin, message, confidence, url, source, params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	alarmColumns = `id, timestamp, request_id, kind, check_type, policy_id, action, plugin, message, confidence, url, source, params`

	querySelectAll = `
		SELECT ` + alarmColumns + `
		FROM alarm_log
		ORDER BY timestamp DESC, id DESC`

	querySelectByRequest = `
		SELECT ` + alarmColumns + `
		FROM alarm_log
		WHERE request_id = ?
		ORDER BY id ASC`
)
