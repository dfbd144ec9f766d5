package domain

import "time"

// EntryStatus is the sync lifecycle state of one tracked path.
type EntryStatus string

const (
	// StatusInSync means both sides held the same content at the last
	// successful transfer and no divergence has been observed since.
	StatusInSync EntryStatus = "in_sync"

	// StatusPendingUpload means a local change is waiting to be
	// pushed to the device.
	StatusPendingUpload EntryStatus = "pending_upload"

	// StatusPendingDownload means a remote change is waiting to be
	// pulled from the device.
	StatusPendingDownload EntryStatus = "pending_download"

	// StatusConflict means both sides diverged since the last sync.
	// Only an explicit resolution moves the entry out of this state.
	StatusConflict EntryStatus = "conflict"

	// StatusError means the last planned action failed. The reason is
	// retained in LastError until a new matching change re-plans the
	// entry or the user clears it.
	StatusError EntryStatus = "error"
)

// SyncEntry is the persisted sync bookkeeping for one logical relative
// path. LastSyncedHash is the content hash both sides held at the last
// successful transfer; divergence of the modification times beyond that
// point is what defines "changed".
type SyncEntry struct {
	Path           string
	ContentHash    string
	LocalMTime     time.Time
	RemoteMTime    time.Time
	LastSyncedHash string
	LastSyncedAt   time.Time
	Status         EntryStatus

	// LastError holds the failure reason while Status is error, or a
	// retry reason while a connection failure keeps the entry pending.
	LastError string

	UpdatedAt time.Time
}

// ActionKind is the kind of planned sync action.
type ActionKind int

const (
	// ActionSkip records a deliberate no-op with a reason.
	ActionSkip ActionKind = iota

	// ActionUpload pushes the local file to the device as-is.
	ActionUpload

	// ActionConvertThenUpload converts markdown to PDF and pushes
	// both the source and the rendered artifact.
	ActionConvertThenUpload

	// ActionDownload pulls the remote file over the local copy.
	ActionDownload

	// ActionDeleteRemote removes the remote copy after a local delete.
	ActionDeleteRemote

	// ActionDeleteLocal removes the local copy after a remote delete.
	ActionDeleteLocal
)

// String returns the action name for logs and reports.
func (k ActionKind) String() string {
	switch k {
	case ActionSkip:
		return "skip"
	case ActionUpload:
		return "upload"
	case ActionConvertThenUpload:
		return "convert+upload"
	case ActionDownload:
		return "download"
	case ActionDeleteRemote:
		return "delete-remote"
	case ActionDeleteLocal:
		return "delete-local"
	default:
		return "unknown"
	}
}

// SyncAction is one planned operation against a single entry. Produced
// by the planner, owned by the executor for its lifetime. At most one
// action per entry is in flight at any time.
type SyncAction struct {
	Path   string
	Kind   ActionKind
	Reason string

	// RemoteSize is the listing size the plan saw for a download. The
	// executor drops the action when the remote size has moved on since
	// planning. Zero when unknown.
	RemoteSize int64
}

// ConflictResolution is an explicit user decision for a conflicted entry.
type ConflictResolution string

const (
	// ResolveKeepLocal re-plans the entry as an upload.
	ResolveKeepLocal ConflictResolution = "keep-local"

	// ResolveKeepRemote re-plans the entry as a download.
	ResolveKeepRemote ConflictResolution = "keep-remote"

	// ResolveSkip accepts the divergence and marks the entry in sync
	// against the current local content.
	ResolveSkip ConflictResolution = "skip"
)
