package syncengine

import "time"

// Mode names which pipeline a SyncReport came from.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeUploadOnly  Mode = "upload"
	ModeDownloadOnly Mode = "download"
)

// SyncReport summarizes the outcome of one operation.
type SyncReport struct {
	Family                  string
	Mode                    Mode
	Duration                time.Duration
	Uploaded                int
	Downloaded              int
	Conflicts               int
	ConflictsAutoResolved   int
	ConflictsManualRequired int
	Failed                  int
	Errors                  []string
	Cancelled               bool
}
