package events

// EventTypeStatusChanged labels sync status events.
const EventTypeStatusChanged = "sync.status_changed"

const statusChangedSchema = `{
  "type": "object",
  "title": "SyncStatusChanged",
  "properties": {
    "device_id": {"type": "string"},
    "state": {"type": "string", "enum": ["idle", "syncing", "success", "error"]},
    "message": {"type": "string"},
    "pending_count": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["device_id", "state", "pending_count", "occurred_at"],
  "additionalProperties": false
}`
