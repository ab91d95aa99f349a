package store

import "fmt"

// --------------------------------------------------------------------------
// Merge Report
// --------------------------------------------------------------------------

// Warning is a non-fatal finding of a save: a series-name collision or a
// metadata conflict. Warnings never block the rest of the operation.
type Warning struct {
	// Path names the subtree the warning belongs to, e.g. "aes/power".
	Path    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// Report summarizes what a Save call actually did. Warnings are kept in
// the order they were found (experiments and series are processed in
// sorted name order, so reports are deterministic).
type Report struct {
	Warnings []Warning

	NewExperiments int // experiments attached as new top-level groups
	NewSeries      int // series attached as new groups
	MergedSeries   int // colliding series whose traces were appended
	AppendedTraces int // traces appended to colliding series
}

// warnf records a warning and logs it.
func (r *Report) warnf(path, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, Warning{Path: path, Message: msg})
	log.WithField("path", path).Warn(msg)
}
