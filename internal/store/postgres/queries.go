package postgres

const queryGetDefinition = `
SELECT id, service, event, access_modes, created_at, updated_at
FROM trigger_event_definitions
WHERE service = $1 AND event = $2
`

const queryListDefinitions = `
SELECT id, service, event, access_modes, created_at, updated_at
FROM trigger_event_definitions
ORDER BY service, event
LIMIT $1 OFFSET $2
`

const queryInsertDefinition = `
INSERT INTO trigger_event_definitions (id, service, event, access_modes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryUpdateDefinitionModes = `
UPDATE trigger_event_definitions
SET access_modes = $1, updated_at = $2
WHERE service = $3 AND event = $4
`

const queryDeleteDefinition = `
DELETE FROM trigger_event_definitions
WHERE service = $1 AND event = $2
`
