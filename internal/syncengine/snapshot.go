package syncengine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/export"
)

// Export writes a version 1 snapshot of the local store to w. It runs as one
// step so no write lands halfway through.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	return e.do(ctx, "export", func(ctx context.Context) error {
		snap, err := e.store.Dump(ctx)
		if err != nil {
			return err
		}
		if err := export.WriteSnapshot(w, snap); err != nil {
			return err
		}
		internal.LogInfo("Exported %d sessions, %d messages, %d attachments",
			len(snap.Sessions), len(snap.Messages), len(snap.Attachments))
		return nil
	})
}

// Import replaces every local collection with the snapshot read from r and
// re-hydrates the view. Snapshots with another version are rejected with
// *internal.ImportVersionError before anything is written.
func (e *Engine) Import(ctx context.Context, r io.Reader) error {
	snap, err := export.ReadSnapshot(r)
	if err != nil {
		return err
	}
	return e.do(ctx, "import", func(ctx context.Context) error {
		if err := e.store.Restore(ctx, snap); err != nil {
			return err
		}
		current := e.view.CurrentID()
		if err := e.hydrate(ctx); err != nil {
			return err
		}

		for topic := range e.subs {
			id, ok := strings.CutPrefix(topic, messagesTable+":")
			if ok && !e.view.Has(id) {
				e.closeMessageTopic(ctx, id)
			}
		}
		for _, s := range e.view.Sessions() {
			e.ensureMessageTopic(ctx, s.ID)
		}

		e.view.SetCurrent(current)
		if e.view.CurrentID() == "" {
			if sessions := e.view.Sessions(); len(sessions) > 0 {
				e.view.SetCurrent(sessions[0].ID)
			}
		}
		e.notifier.Notify(LevelInfo, fmt.Sprintf("Imported %d sessions", len(snap.Sessions)))
		return nil
	})
}
