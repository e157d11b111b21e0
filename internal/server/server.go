package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// CreateServer creates an HTTP server with production timeouts. There is
// no write timeout: hijacked websocket connections manage their own
// deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// HTTPService runs an http.Server under a supervisor.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. shutdownTimeout bounds graceful shutdown.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", h.server.Addr).Msg("HTTP server listening")
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (h *HTTPService) String() string { return "http-server" }

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// errSubscriptionEnded makes the supervisor resubscribe after the backbone
// drops a subscription.
var errSubscriptionEnded = errors.New("fanout subscription ended")

// FanoutBridge feeds events from the backbone into the relay.
type FanoutBridge struct {
	relay *Relay
	sub   fanout.Subscriber
}

// NewFanoutBridge subscribes relay to the chat and notifications channels.
func NewFanoutBridge(relay *Relay, sub fanout.Subscriber) *FanoutBridge {
	return &FanoutBridge{relay: relay, sub: sub}
}

// Serve implements suture.Service. A subscription is never restarted in
// place; when it ends the supervisor calls Serve again.
func (b *FanoutBridge) Serve(ctx context.Context) error {
	ch, err := b.sub.Subscribe(ctx, b.relay.chatChannel, b.relay.notificationsChannel)
	if err != nil {
		logging.Warn().Err(err).Msg("fanout subscribe failed, cross-instance delivery unavailable")
		return err
	}
	logging.Info().Str("chat", b.relay.chatChannel).Str("notifications", b.relay.notificationsChannel).
		Msg("subscribed to fanout channels")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriptionEnded
			}
			b.relay.Deliver(d)
		}
	}
}

func (b *FanoutBridge) String() string { return "fanout-bridge" }

// NewSupervisor builds the root supervisor that runs services and logs its
// events through zerolog.
func NewSupervisor(name string, shutdownTimeout time.Duration, services ...suture.Service) *suture.Supervisor {
	sup := suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   5 * time.Second,
		Timeout:          shutdownTimeout,
	})
	for _, svc := range services {
		sup.Add(svc)
	}
	return sup
}
