package sqlite

const jobColumns = `id, name, target, mode, schedule_spec, timezone, enabled, created_at, last_fired_at`

const taskColumns = `id, job_id, fire_at, target, mode, status, attempts, leased_by, lease_token,
    lease_expires_at, available_at, last_error, created_at, completed_at`

const queryInsertJob = `
INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryGetJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

const queryListJobs = `
SELECT ` + jobColumns + `
FROM jobs
WHERE (?1 = 0 OR enabled = 1)
ORDER BY created_at, id
`

// Forward-only: a stale or repeated fire time never moves last_fired_at back.
const queryUpdateLastFired = `
UPDATE jobs
SET last_fired_at = ?2
WHERE id = ?1
  AND (last_fired_at IS NULL OR last_fired_at < ?2)
`

const queryJobExists = `SELECT 1 FROM jobs WHERE id = ?`

const querySetJobEnabled = `UPDATE jobs SET enabled = ? WHERE id = ?`

const queryDeleteJob = `DELETE FROM jobs WHERE id = ?`

const queryEnqueueTask = `
INSERT INTO tasks (` + taskColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, NULL, ?, NULL)
ON CONFLICT(id) DO NOTHING
`

const queryGetTask = `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

const queryGetTaskStatus = `SELECT status FROM tasks WHERE id = ?`

// Lease picks the oldest eligible task by insertion order. An expired lease
// may be taken over while it still has attempts left; taking it over consumes
// the expired attempt. The connection pool holds a single connection, so the
// subselect and update run without interleaving writers.
const queryLeaseTask = `
UPDATE tasks
SET status = 'leased',
    attempts = CASE WHEN status = 'leased' THEN attempts + 1 ELSE attempts END,
    leased_by = ?1,
    lease_token = ?2,
    lease_expires_at = ?3
WHERE id = (
    SELECT id FROM tasks
    WHERE (status = 'pending' AND available_at <= ?4)
       OR (status = 'leased' AND lease_expires_at <= ?4 AND attempts + 1 < ?5)
    ORDER BY seq
    LIMIT 1
)
RETURNING ` + taskColumns

const queryAckSucceeded = `
UPDATE tasks
SET status = 'succeeded',
    attempts = attempts + 1,
    lease_token = NULL,
    lease_expires_at = NULL,
    completed_at = ?3
WHERE id = ?1 AND status = 'leased' AND lease_token = ?2 AND lease_expires_at > ?3
`

const queryAckFailed = `
UPDATE tasks
SET status = 'failed',
    lease_token = NULL,
    lease_expires_at = NULL,
    last_error = ?3
WHERE id = ?1 AND status = 'leased' AND lease_token = ?2 AND lease_expires_at > ?4
RETURNING attempts
`

const queryInsertFailure = `
INSERT INTO task_failures (task_id, attempt, kind, message, at)
VALUES (?, ?, ?, ?, ?)
`

const queryListFailures = `
SELECT task_id, attempt, kind, message, at
FROM task_failures
WHERE task_id = ?
ORDER BY id
`

const querySelectRequeueable = `
SELECT id, status, attempts, COALESCE(last_error, '')
FROM tasks
WHERE (status = 'leased' AND lease_expires_at <= ?1)
   OR status = 'failed'
ORDER BY seq
LIMIT ?2
`

const queryRequeueTask = `
UPDATE tasks
SET status = 'pending',
    attempts = ?2,
    leased_by = NULL,
    lease_token = NULL,
    lease_expires_at = NULL,
    available_at = ?3,
    last_error = ?4
WHERE id = ?1
`

const queryDeadLetterTask = `
UPDATE tasks
SET status = 'dead_lettered',
    attempts = ?2,
    lease_token = NULL,
    lease_expires_at = NULL,
    completed_at = ?3,
    last_error = ?4
WHERE id = ?1
`

const queryUpsertRecord = `
INSERT INTO records (task_id, job_id, target, fields, fetched_at, raw_size)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
    job_id = excluded.job_id,
    target = excluded.target,
    fields = excluded.fields,
    fetched_at = excluded.fetched_at,
    raw_size = excluded.raw_size
`

const recordColumns = `task_id, job_id, target, fields, fetched_at, raw_size`

const queryGetRecord = `SELECT ` + recordColumns + ` FROM records WHERE task_id = ?`

const queryListRecords = `
SELECT ` + recordColumns + `
FROM records
WHERE (?1 IS NULL OR job_id = ?1)
  AND (?2 IS NULL OR fetched_at >= ?2)
  AND (?3 IS NULL OR fetched_at < ?3)
ORDER BY fetched_at, task_id
LIMIT ?4
`

const queryTaskCounts = `SELECT status, COUNT(*) FROM tasks GROUP BY status`

const queryJobCounts = `SELECT COUNT(*), COALESCE(SUM(CASE WHEN enabled = 1 THEN 1 ELSE 0 END), 0) FROM jobs`

const queryRecordCount = `SELECT COUNT(*) FROM records`

const queryDeadLetters = `
SELECT id, job_id, fire_at, attempts, COALESCE(last_error, ''), completed_at
FROM tasks
WHERE status = 'dead_lettered'
ORDER BY completed_at DESC, seq DESC
LIMIT ?
`

const queryLastSuccess = `
SELECT job_id, MAX(completed_at)
FROM tasks
WHERE status = 'succeeded'
GROUP BY job_id
`
