package farm

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter stamps progress labels with the time elapsed since the run started.
type Reporter struct {
	out   io.Writer
	start time.Time
	now   func() time.Time
}

// NewReporter binds a reporter to start. Lines are written to out.
func NewReporter(out io.Writer, start time.Time) *Reporter {
	return &Reporter{out: out, start: start, now: time.Now}
}

// Start is the instant the reporter measures from.
func (r *Reporter) Start() time.Time { return r.start }

// Elapsed is the wall-clock time since Start.
func (r *Reporter) Elapsed() time.Duration { return r.now().Sub(r.start) }

// Report writes "*** label *** (elapsed)" and logs the same event.
func (r *Reporter) Report(label string) {
	elapsed := r.Elapsed()
	if r.out != nil {
		fmt.Fprintf(r.out, "*** %s *** (%s)\n", label, elapsed)
	}
	log.Debug().Str("label", label).Dur("elapsed", elapsed).Msg("progress")
}
