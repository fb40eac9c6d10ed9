package tags

// LogTags are the fields we attach to log lines for anything tied to a
// particular job. Embed in long-lived structs so every component logs the
// same identifiers.
type LogTags struct {
	// JobID is the submission-time index of the spec being run.
	JobID int
	// RunID identifies one dispatch attempt of that spec.
	RunID string
	// Tag is the caller-supplied scene/experiment tag, if any.
	Tag string
}
