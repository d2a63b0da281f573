package server

import (
	"context"
	"os"
	"time"
)

// Stop terminates the proxy server: the listener closes first so no new
// session starts, then in-flight sessions get until ctx expires to finish
// before being torn down.
func Stop(ctx context.Context) {
	if srv == nil {
		return
	}

	srv.stop.Do(func() {
		close(srv.quit)
		_ = srv.listener.Close()

		done := make(chan struct{})

		go func() {
			srv.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("Drain timed out, closing remaining sessions")
			srv.closeAll()
		}
	})
}

func interrupt(sig chan os.Signal) {
	<-sig
	log.Warn("Interrupted. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	Stop(ctx)
}
