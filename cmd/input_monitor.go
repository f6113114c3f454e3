package cmd

import (
	"context"
	"os"
	"time"

	"AgentCore/cmd/ui"
	"AgentCore/pkg/logger"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// monitorCancellation puts the terminal in raw mode and watches for
// the abort keys while an exchange is running: Esc pressed twice
// within three seconds, or Ctrl+C, cancels the run context. The
// engine then winds the stream down and persists the partial turn.
// The returned cleanup must run before any other terminal UI starts.
func monitorCancellation(ctx context.Context, cancel func()) func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn("Input", "Raw mode unavailable, abort keys disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return func() {}
	}
	ui.IsRawMode = true

	cr, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		_ = term.Restore(fd, oldState)
		ui.IsRawMode = false
		return func() {}
	}

	stopCh := make(chan struct{})
	cleanup := func() {
		close(stopCh)
		cr.Cancel()
		_ = term.Restore(fd, oldState)
		ui.IsRawMode = false
	}

	go func() {
		buf := make([]byte, 1)
		escCount := 0
		lastEsc := time.Time{}

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}

			n, err := cr.Read(buf)
			if err != nil || n == 0 {
				return
			}
			select {
			case <-stopCh:
				return
			default:
			}

			switch buf[0] {
			case 3: // Ctrl+C: raw mode swallows the signal, so handle the byte
				ui.Print("\n🛑 Cancelling...\n")
				cancel()
				return

			case 27: // Esc
				now := time.Now()
				if now.Sub(lastEsc) > 3*time.Second {
					escCount = 0
				}
				escCount++
				lastEsc = now

				if escCount == 1 {
					ui.Print("\n⚠️  Press Esc again to stop...\n")
				} else {
					ui.Print("\n🛑 Cancelling...\n")
					logger.Info("Input", "User aborted the running exchange", nil)
					cancel()
					return
				}

			default:
				escCount = 0
			}
		}
	}()

	return cleanup
}
