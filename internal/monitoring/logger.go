// Package monitoring is this pipeline's only logging seam: every
// component logs through the package-level Logf instead of calling the
// log package directly, so a worker process can redirect or silence
// output (and tests can capture it) without threading a logger through
// every constructor.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Jobf logs a diagnostic line scoped to a single job, the orchestrator's
// unit of work, so every poll-step failure or recovery message carries
// its job ID in a consistent place.
func Jobf(jobID, format string, v ...interface{}) {
	Logf("job %s: "+format, append([]interface{}{jobID}, v...)...)
}
