package store

import (
	"context"
	"fmt"

	"github.com/iksnae/chatsync/internal"
)

// Dump reads all three collections into a version 1 snapshot
func (s *Store) Dump(ctx context.Context) (*internal.Snapshot, error) {
	snap := internal.NewSnapshot()

	sessions, err := s.loadSessions(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		snap.Sessions = append(snap.Sessions, session.ToRecord())
	}

	messages, err := s.loadMessages(ctx,
		"SELECT "+messageColumns+" FROM messages ORDER BY session_id, timestamp ASC, id",
		"SELECT "+attachmentColumns+" FROM attachments ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		snap.Messages = append(snap.Messages, m.ToRecord())
		for _, a := range m.Attachments {
			snap.Attachments = append(snap.Attachments, a.ToRecord())
		}
	}
	return snap, nil
}

// Restore replaces every collection with the snapshot contents in one
// transaction. Version and reference errors are returned before anything is
// written.
func (s *Store) Restore(ctx context.Context, snap *internal.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	ops := []Op{ClearCollection(Sessions)}

	for _, r := range snap.Sessions {
		session, err := r.ToSession()
		if err != nil {
			return err
		}
		ops = append(ops, PutSession(session))
	}

	messages := make([]internal.Message, 0, len(snap.Messages))
	for _, r := range snap.Messages {
		m, err := r.ToMessage()
		if err != nil {
			return err
		}
		messages = append(messages, m)
	}
	if len(messages) > 0 {
		ops = append(ops, PutMessages(messages...))
	}

	attachments := make([]internal.Attachment, 0, len(snap.Attachments))
	for _, r := range snap.Attachments {
		a, err := r.ToAttachment()
		if err != nil {
			return err
		}
		attachments = append(attachments, a)
	}
	if len(attachments) > 0 {
		ops = append(ops, PutAttachments(attachments...))
	}

	if err := s.RunAtomic(ctx, ops...); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	internal.LogInfo("Restored %d sessions, %d messages, %d attachments", len(snap.Sessions), len(messages), len(attachments))
	return nil
}
