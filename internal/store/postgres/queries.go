package postgres

const jobColumns = `id, name, target, mode, schedule_spec, timezone, enabled, created_at, last_fired_at`

const taskColumns = `t.id, t.job_id, t.fire_at, t.target, t.mode, t.status, t.attempts, t.leased_by,
    t.lease_token, t.lease_expires_at, t.available_at, t.last_error, t.created_at, t.completed_at`

const queryInsertJob = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryGetJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

const queryListJobs = `
SELECT ` + jobColumns + `
FROM jobs
WHERE ($1 = false OR enabled = true)
ORDER BY created_at, id
`

// The row lock taken by UPDATE serializes concurrent dispatchers; the WHERE
// guard keeps last_fired_at monotonic.
const queryUpdateLastFired = `
UPDATE jobs
SET last_fired_at = $2
WHERE id = $1
  AND (last_fired_at IS NULL OR last_fired_at < $2)
`

const queryJobExists = `SELECT 1 FROM jobs WHERE id = $1`

const querySetJobEnabled = `UPDATE jobs SET enabled = $1 WHERE id = $2`

const queryDeleteJob = `DELETE FROM jobs WHERE id = $1`

const queryEnqueueTask = `
INSERT INTO tasks (id, job_id, fire_at, target, mode, status, attempts, available_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
`

const queryGetTask = `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = $1`

const queryGetTaskStatus = `SELECT status FROM tasks WHERE id = $1`

// SKIP LOCKED lets concurrent workers claim different rows without blocking.
// Taking over an expired lease consumes the attempt it represented.
const queryLeaseTask = `
WITH next AS (
    SELECT id FROM tasks
    WHERE (status = 'pending' AND available_at <= $4)
       OR (status = 'leased' AND lease_expires_at <= $4 AND attempts + 1 < $5)
    ORDER BY seq
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE tasks t
SET status = 'leased',
    attempts = CASE WHEN t.status = 'leased' THEN t.attempts + 1 ELSE t.attempts END,
    leased_by = $1,
    lease_token = $2,
    lease_expires_at = $3
FROM next
WHERE t.id = next.id
RETURNING ` + taskColumns

const queryAckSucceeded = `
UPDATE tasks
SET status = 'succeeded',
    attempts = attempts + 1,
    lease_token = NULL,
    lease_expires_at = NULL,
    completed_at = $3
WHERE id = $1 AND status = 'leased' AND lease_token = $2 AND lease_expires_at > $3
`

const queryAckFailed = `
UPDATE tasks
SET status = 'failed',
    lease_token = NULL,
    lease_expires_at = NULL,
    last_error = $3
WHERE id = $1 AND status = 'leased' AND lease_token = $2 AND lease_expires_at > $4
RETURNING attempts
`

const queryInsertFailure = `
INSERT INTO task_failures (task_id, attempt, kind, message, at)
VALUES ($1, $2, $3, $4, $5)
`

const queryListFailures = `
SELECT task_id, attempt, kind, message, at
FROM task_failures
WHERE task_id = $1
ORDER BY id
`

const querySelectRequeueable = `
SELECT id, status, attempts, COALESCE(last_error, '')
FROM tasks
WHERE (status = 'leased' AND lease_expires_at <= $1)
   OR status = 'failed'
ORDER BY seq
LIMIT $2
FOR UPDATE SKIP LOCKED
`

const queryRequeueTask = `
UPDATE tasks
SET status = 'pending',
    attempts = $2,
    leased_by = NULL,
    lease_token = NULL,
    lease_expires_at = NULL,
    available_at = $3,
    last_error = $4
WHERE id = $1
`

const queryDeadLetterTask = `
UPDATE tasks
SET status = 'dead_lettered',
    attempts = $2,
    lease_token = NULL,
    lease_expires_at = NULL,
    completed_at = $3,
    last_error = $4
WHERE id = $1
`

const recordColumns = `task_id, job_id, target, fields, fetched_at, raw_size`

const queryUpsertRecord = `
INSERT INTO records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (task_id) DO UPDATE SET
    job_id = EXCLUDED.job_id,
    target = EXCLUDED.target,
    fields = EXCLUDED.fields,
    fetched_at = EXCLUDED.fetched_at,
    raw_size = EXCLUDED.raw_size
`

const queryGetRecord = `SELECT ` + recordColumns + ` FROM records WHERE task_id = $1`

const queryListRecords = `
SELECT ` + recordColumns + `
FROM records
WHERE ($1::uuid IS NULL OR job_id = $1)
  AND ($2::timestamptz IS NULL OR fetched_at >= $2)
  AND ($3::timestamptz IS NULL OR fetched_at < $3)
ORDER BY fetched_at, task_id
LIMIT $4
`

const queryTaskCounts = `SELECT status, COUNT(*) FROM tasks GROUP BY status`

const queryJobCounts = `SELECT COUNT(*), COUNT(*) FILTER (WHERE enabled) FROM jobs`

const queryRecordCount = `SELECT COUNT(*) FROM records`

const queryDeadLetters = `
SELECT id, job_id, fire_at, attempts, COALESCE(last_error, ''), completed_at
FROM tasks
WHERE status = 'dead_lettered'
ORDER BY completed_at DESC, seq DESC
LIMIT $1
`

const queryLastSuccess = `
SELECT job_id, MAX(completed_at)
FROM tasks
WHERE status = 'succeeded'
GROUP BY job_id
`
