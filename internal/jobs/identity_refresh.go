package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"rollcall/shell/internal/config"
	"rollcall/shell/internal/identity"
	"rollcall/shell/internal/session"
)

// StartIdentityRefreshJob periodically re-fetches the signed-in user's
// document and mirrors it into the session store. It is the secondary
// consistency signal: a document change or a backend-driven sign-out is
// picked up even if no change event was delivered.
func StartIdentityRefreshJob(ctx context.Context, cfg config.Config, store *session.Store) {
	if !cfg.RefreshJobEnabled {
		return
	}
	interval := cfg.RefreshJobInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.RefreshJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				err := store.Refresh(tickCtx)
				cancel()
				if err != nil && !errors.Is(err, identity.ErrNotFound) {
					log.Printf("identity refresh job error: %v", err)
				}
			}
		}
	}()
}
