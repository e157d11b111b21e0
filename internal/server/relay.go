package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/models"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// RelayOptions wires a Relay to its collaborators.
type RelayOptions struct {
	// InstanceID tags published events so this instance can recognise its
	// own publishes on the subscribe side.
	InstanceID           string
	ChatChannel          string
	NotificationsChannel string

	Verifier  auth.Verifier
	Oracle    store.RelationshipOracle
	Messages  store.MessageStore
	Publisher fanout.Publisher
	Registry  *Registry
}

// Relay runs the per-connection protocol: authenticate, authorise, persist,
// deliver locally, fan out.
type Relay struct {
	instanceID           string
	chatChannel          string
	notificationsChannel string

	verifier  auth.Verifier
	oracle    store.RelationshipOracle
	messages  store.MessageStore
	publisher fanout.Publisher
	registry  *Registry
}

// NewRelay creates a relay. A nil Registry gets a fresh one.
func NewRelay(opts RelayOptions) *Relay {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.ChatChannel == "" {
		opts.ChatChannel = "chat"
	}
	if opts.NotificationsChannel == "" {
		opts.NotificationsChannel = "notifications"
	}
	return &Relay{
		instanceID:           opts.InstanceID,
		chatChannel:          opts.ChatChannel,
		notificationsChannel: opts.NotificationsChannel,
		verifier:             opts.Verifier,
		oracle:               opts.Oracle,
		messages:             opts.Messages,
		publisher:            opts.Publisher,
		registry:             opts.Registry,
	}
}

// Registry returns the connection registry.
func (r *Relay) Registry() *Registry { return r.registry }

// HandleFrame processes one raw client frame. Any failure becomes a single
// error frame; only auth failures close the connection.
func (r *Relay) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	if c.currentState() == stateClosed {
		return
	}
	frame, err := DecodeFrame(raw)
	if err == nil {
		framesReceived.WithLabelValues(frame.frameType()).Inc()
		err = r.dispatch(ctx, c, frame)
	} else {
		framesReceived.WithLabelValues("invalid").Inc()
		if asFrameError(err).Terminal() && c.currentState() != stateUnauthenticated {
			err = protocolError("already authenticated")
		}
	}
	if err != nil {
		r.reject(c, err)
	}
}

func (r *Relay) reject(c *Client, err error) {
	fe := asFrameError(err)
	frameRejections.WithLabelValues(string(fe.Kind)).Inc()

	level := zerolog.DebugLevel
	if fe.Kind == KindPersistence {
		level = zerolog.ErrorLevel
	}
	c.log().WithLevel(level).Err(fe.Err).Str("kind", string(fe.Kind)).Str("reason", fe.Message).Msg("frame rejected")

	c.Send(newErrorFrame(fe.Message))
	if fe.Terminal() {
		c.Close()
	}
}

func (r *Relay) dispatch(ctx context.Context, c *Client, frame Frame) error {
	if f, ok := frame.(*AuthFrame); ok {
		return r.authenticate(c, f)
	}

	self, ok := c.Identity()
	if !ok {
		return protocolError("not authenticated")
	}

	switch f := frame.(type) {
	case *MessageFrame:
		return r.sendMessage(ctx, c, self, f)
	case *TypingFrame:
		r.sendTyping(self, f)
		return nil
	case *MarkSeenFrame:
		return r.markSeen(ctx, self, f)
	default:
		return protocolError("unsupported frame")
	}
}

func (r *Relay) authenticate(c *Client, f *AuthFrame) error {
	if c.currentState() != stateUnauthenticated {
		return protocolError("already authenticated")
	}
	id, err := r.verifier.Verify(f.Token)
	if err != nil {
		return authError("authentication failed", err)
	}
	if !c.authenticate(id) {
		return nil
	}
	if prev := r.registry.Register(id, c); prev != nil {
		c.log().Info().Str("replaced_conn_id", prev.ID()).Msg("identity re-registered, previous connection displaced")
	}
	c.log().Info().Msg("client authenticated")
	c.Send(newConnectedFrame(id))
	return nil
}

func (r *Relay) sendMessage(ctx context.Context, c *Client, self models.Identity, f *MessageFrame) error {
	ok, err := r.oracle.Authorized(ctx, self, f.ToID)
	if err != nil {
		return persistenceError("could not check relationship", err)
	}
	if !ok {
		return authorizationError("you can only message friends")
	}

	msg, err := r.messages.CreateMessage(ctx, self, f.ToID, f.Content)
	if err != nil {
		return persistenceError("failed to save message", err)
	}
	messagesRelayed.Inc()

	if target, ok := r.registry.Lookup(f.ToID); ok {
		target.Send(newMessageFrame(FrameMessage, msg))
	}
	r.publish(ctx, r.chatChannel, fanout.Event{
		Kind:    fanout.KindMessage,
		Origin:  r.instanceID,
		UserID:  f.ToID,
		Message: msg,
	})
	c.Send(newMessageFrame(FrameMessageSent, msg))
	return nil
}

// sendTyping delivers to a recipient on this instance only. Typing is not
// checked against relationships and not fanned out.
func (r *Relay) sendTyping(self models.Identity, f *TypingFrame) {
	if target, ok := r.registry.Lookup(f.ToID); ok {
		target.Send(newTypingFrame(self, *f.IsTyping))
	}
}

func (r *Relay) markSeen(ctx context.Context, self models.Identity, f *MarkSeenFrame) error {
	if err := r.messages.MarkSeen(ctx, f.MessageID, self); err != nil {
		return persistenceError("failed to mark message as seen", err)
	}
	return nil
}

// publish is best-effort: failures are logged and counted, never returned.
func (r *Relay) publish(ctx context.Context, channel string, ev fanout.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, channel, ev); err != nil {
		fanoutPublishes.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("channel", channel).Msg("fanout publish failed, cross-instance delivery skipped")
		return
	}
	fanoutPublishes.WithLabelValues("ok").Inc()
}

// Disconnect removes c from the registry if it is still the registered
// connection for its identity.
func (r *Relay) Disconnect(c *Client) {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()
	if id == "" {
		return
	}
	r.registry.Unregister(id, c)
}

// Deliver routes one fanout event to a locally registered recipient.
func (r *Relay) Deliver(d fanout.Delivery) {
	switch d.Channel {
	case r.chatChannel:
		r.deliverChat(d)
	case r.notificationsChannel:
		r.deliverNotification(d)
	default:
		fanoutEvents.WithLabelValues(d.Channel, "dropped").Inc()
	}
}

func (r *Relay) deliverChat(d fanout.Delivery) {
	ev := d.Event
	if ev.Origin != "" && ev.Origin == r.instanceID {
		fanoutEvents.WithLabelValues(d.Channel, "skipped_own").Inc()
		return
	}
	if (ev.Kind != "" && ev.Kind != fanout.KindMessage) || ev.Message == nil {
		fanoutEvents.WithLabelValues(d.Channel, "dropped").Inc()
		return
	}
	target, ok := r.registry.Lookup(ev.Message.ToID)
	if !ok || !target.Send(newMessageFrame(FrameMessage, ev.Message)) {
		fanoutEvents.WithLabelValues(d.Channel, "dropped").Inc()
		return
	}
	fanoutEvents.WithLabelValues(d.Channel, "delivered").Inc()
}

func (r *Relay) deliverNotification(d fanout.Delivery) {
	target, ok := r.registry.Lookup(d.Event.UserID)
	if !ok || !target.Send(newNotificationFrame(d.Event.Notification)) {
		fanoutEvents.WithLabelValues(d.Channel, "dropped").Inc()
		return
	}
	fanoutEvents.WithLabelValues(d.Channel, "delivered").Inc()
}
