package syncengine

import (
	"context"
	"sort"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
)

const (
	sessionsTable = "chat_sessions"
	messagesTable = "messages"
)

func (e *Engine) sessionsTopic() string {
	return feed.Topic(sessionsTable, e.userID)
}

func messagesTopic(sessionID string) string {
	return feed.Topic(messagesTable, sessionID)
}

// initialize drops every subscription and opens the user's session topic.
// Per-session topics follow once it is confirmed.
func (e *Engine) initialize(ctx context.Context) {
	if e.feed == nil || e.userID == "" {
		return
	}
	e.dropSubscriptions(ctx)
	e.setState(Connecting)
	if !e.feed.Connected() {
		internal.LogInfo("Waiting for realtime connection")
		return
	}
	e.hadConnection = true

	filter := feed.Filter{Table: sessionsTable, Column: "user_id", Value: e.userID}
	if err := e.openTopic(ctx, e.sessionsTopic(), filter); err != nil {
		internal.LogWarn("Failed to subscribe to sessions: %v", err)
		e.notifier.Notify(LevelWarn, "Realtime subscription failed, working offline")
		e.setState(Disconnected)
	}
}

func (e *Engine) handleConnectivity(ctx context.Context, c feed.Connectivity, err error) {
	switch c {
	case feed.ConnEstablished:
		if e.userID == "" {
			return
		}
		if e.hadConnection {
			// events may have been dropped while the transport was down
			e.resyncAfter = true
		}
		e.initialize(ctx)
	case feed.ConnLost, feed.ConnErrored:
		if err != nil {
			internal.LogWarn("Realtime transport %s: %v", c, err)
		}
		// old handles are stale after a transport loss
		e.subs = make(map[string]*subscription)
		e.metrics.OpenTopics.Set(0)
		if e.State() != Disconnected {
			e.notifier.Notify(LevelWarn, "Realtime connection lost")
		}
		e.setState(Disconnected)
	}
}

// openTopic subscribes to topic unless it is already in the set
func (e *Engine) openTopic(ctx context.Context, topic string, filter feed.Filter) error {
	if _, ok := e.subs[topic]; ok {
		return nil
	}
	sub := &subscription{topic: topic}
	h, err := e.feed.Subscribe(ctx, topic, filter,
		func(c feed.Change) {
			e.enqueue("change "+topic, func(ctx context.Context) {
				e.applyRemote(ctx, c)
			})
		},
		func(st feed.Status, err error) {
			e.enqueue("status "+topic, func(ctx context.Context) {
				e.handleStatus(ctx, sub, st, err)
			})
		},
	)
	if err != nil {
		return err
	}
	sub.handle = h
	e.subs[topic] = sub
	e.metrics.OpenTopics.Set(float64(len(e.subs)))
	return nil
}

func (e *Engine) handleStatus(ctx context.Context, sub *subscription, st feed.Status, err error) {
	if e.subs[sub.topic] != sub {
		return
	}
	isSessions := sub.topic == e.sessionsTopic()

	if st == feed.StatusSubscribed {
		sub.joined = true
		internal.LogDebug("Subscribed to %s", sub.topic)
		if !isSessions {
			return
		}
		e.setState(Connected)
		for _, s := range e.view.Sessions() {
			e.ensureMessageTopic(ctx, s.ID)
		}
		if e.resyncAfter && e.remote != nil {
			e.resyncAfter = false
			go func() {
				if err := e.SyncWithRemote(context.Background()); err != nil {
					internal.LogWarn("Resync after reconnect failed: %v", err)
				}
			}()
		}
		return
	}

	delete(e.subs, sub.topic)
	e.metrics.OpenTopics.Set(float64(len(e.subs)))
	internal.LogWarn("Subscription %s ended: %s %v", sub.topic, st, err)
	if isSessions {
		e.notifier.Notify(LevelWarn, "Realtime subscription ended, working offline")
		e.setState(Disconnected)
	}
}

// ensureMessageTopic opens the per-session topic exactly once while the
// session topic is live
func (e *Engine) ensureMessageTopic(ctx context.Context, sessionID string) {
	if e.feed == nil || e.userID == "" || !e.sessionsJoined() {
		return
	}
	filter := feed.Filter{Table: messagesTable, Column: "session_id", Value: sessionID}
	if err := e.openTopic(ctx, messagesTopic(sessionID), filter); err != nil {
		internal.LogWarn("Failed to subscribe to messages of %s: %v", sessionID, err)
	}
}

func (e *Engine) closeMessageTopic(ctx context.Context, sessionID string) {
	topic := messagesTopic(sessionID)
	sub, ok := e.subs[topic]
	if !ok {
		return
	}
	delete(e.subs, topic)
	e.metrics.OpenTopics.Set(float64(len(e.subs)))
	if err := e.feed.Unsubscribe(ctx, sub.handle); err != nil {
		internal.LogWarn("Failed to unsubscribe %s: %v", topic, err)
	}
}

// dropSubscriptions unsubscribes everything. A failing unsubscribe is logged
// and does not stop the others.
func (e *Engine) dropSubscriptions(ctx context.Context) {
	for topic, sub := range e.subs {
		if err := e.feed.Unsubscribe(ctx, sub.handle); err != nil {
			internal.LogWarn("Failed to unsubscribe %s: %v", topic, err)
		}
	}
	e.subs = make(map[string]*subscription)
	e.metrics.OpenTopics.Set(0)
}

func (e *Engine) sessionsJoined() bool {
	sub, ok := e.subs[e.sessionsTopic()]
	return ok && sub.joined
}

// Topics returns the open topics, sorted
func (e *Engine) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := e.do(ctx, "topics", func(context.Context) error {
		topics = make([]string, 0, len(e.subs))
		for t := range e.subs {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		return nil
	})
	return topics, err
}
