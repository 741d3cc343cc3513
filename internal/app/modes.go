package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"testfleet/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

// runServer starts the services and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Server.Start(); err != nil {
		logging.Error("CLI", err, "Failed to start HTTP server")
		services.close()
		return err
	}
	if services.Inbox != nil {
		if err := services.Inbox.Start(ctx); err != nil {
			logging.Error("CLI", err, "Failed to start inbox")
			services.stop()
			return err
		}
	}
	services.Cycle.Start(ctx)

	notifySystemd(daemon.SdNotifyReady)
	logging.Info("CLI", "Controller running. Press Ctrl+C to stop.")

	<-ctx.Done()

	notifySystemd(daemon.SdNotifyStopping)
	logging.Info("CLI", "--- Shutting down services ---")
	services.stop()
	return nil
}

// stop shuts services down in reverse start order.
func (s *Services) stop() {
	if s.Inbox != nil {
		if err := s.Inbox.Stop(); err != nil {
			logging.Warn("CLI", "Inbox did not stop cleanly: %v", err)
		}
	}
	s.Cycle.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Server.Stop(ctx); err != nil {
		logging.Warn("CLI", "HTTP server did not stop cleanly: %v", err)
	}
	if ids := s.Storage.TestIDs(); len(ids) > 0 {
		logging.Warn("CLI", "Stopping with %d active tests; their machines stay marked active", len(ids))
	}
	s.close()
}

func (s *Services) close() {
	s.Storage.Wait()
	s.Hub.Close()
	if err := s.Catalog.Close(); err != nil {
		logging.Warn("CLI", "Failed to close catalog: %v", err)
	}
}

func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Debug("CLI", "sd_notify failed: %v", err)
		return
	}
	if sent {
		logging.Debug("CLI", "Notified systemd: %s", state)
	}
}
