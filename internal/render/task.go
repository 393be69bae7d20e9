package render

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// Outcome is the single message a render task sends back.
type Outcome struct {
	Result *Result
	Err    error
}

// Start runs job on its own goroutine and returns the channel its outcome
// arrives on. The job is moved into the task; the caller must not touch its
// placements afterwards. A panic inside the task is reported as a render
// error instead of taking the process down.
func Start(job Job) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("stage", stage).Errorf("render task panic: %v\n%s", r, debug.Stack())
				out <- Outcome{Err: mosaicerr.Render(stage, map[string]any{"mode": job.Mode.String()}, "render task failed: %w", fmt.Errorf("%v", r))}
			}
		}()
		res, err := Render(job)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}
