package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fetchledger/internal/logging"
)

// HandleSignals wires process signals to r until the returned stop function
// is called. SIGINT and SIGTERM stop the run gracefully; a second one cancels
// the run context through cancel. SIGUSR1 toggles pause.
func HandleSignals(ctx context.Context, r *Runner, cancel context.CancelFunc) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGUSR1:
					state := r.TogglePause()
					r.logger.Info("pause toggled by signal", logging.String("state", state.String()))
				default:
					if stopping {
						r.logger.Warn("second interrupt, aborting transfers", logging.String("signal", sig.String()))
						cancel()
						continue
					}
					stopping = true
					r.logger.Info("stop requested, draining running units", logging.String("signal", sig.String()))
					go func() {
						if err := r.Stop(); err != nil {
							r.logger.Warn("shutdown did not drain cleanly", logging.Error(err))
						}
					}()
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
