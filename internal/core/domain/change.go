package domain

import "time"

// ChangeOrigin identifies which side a change was observed on.
type ChangeOrigin int

const (
	// OriginLocal means the change came from the local filesystem watcher.
	OriginLocal ChangeOrigin = iota

	// OriginRemote means the change was detected by diffing remote
	// directory listings.
	OriginRemote
)

// String returns the origin name for logs and reasons.
func (o ChangeOrigin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ChangeKind represents the kind of file change.
type ChangeKind int

const (
	// ChangeCreated indicates a new file.
	ChangeCreated ChangeKind = iota

	// ChangeModified indicates a changed file.
	ChangeModified

	// ChangeDeleted indicates a removed file.
	ChangeDeleted
)

// String returns the kind name for logs and reasons.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeRecord is a normalized change event produced by the change
// detector and consumed once by the planner. Path is relative to the
// sync root, using forward slashes on both sides.
type ChangeRecord struct {
	Path       string
	Origin     ChangeOrigin
	Kind       ChangeKind
	ObservedAt time.Time

	// Size and ModTime carry the remote listing values for
	// remote-origin records. Zero for local records.
	Size    int64
	ModTime time.Time
}
