package syncengine

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	s1 := internal.CreateTestSession("s1", 0)
	s1.Messages[1].Attachments = []internal.Attachment{internal.CreateTestAttachment("a1", "s1-m2")}
	src := newHarness(t, []*internal.ChatSession{s1, internal.CreateTestSession("s2", time.Hour)})
	src.start()

	var buf bytes.Buffer
	require.NoError(t, src.engine.Export(src.ctx, &buf))
	require.Contains(t, buf.String(), `"version": 1`)

	dst := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("old", 0)})
	dst.start()
	require.NoError(t, dst.engine.Import(dst.ctx, bytes.NewReader(buf.Bytes())))

	require.Equal(t, src.dump(), dst.dump())
	snap := dst.snapshot()
	require.Equal(t, []string{"s2", "s1"}, sessionIDs(snap.Sessions))
	require.Equal(t, "s2", snap.CurrentID)
	require.Len(t, snap.Find("s1").Messages[1].Attachments, 1)

	dst.flush()
	require.Equal(t, []string{"chat_sessions:u1", "messages:s1", "messages:s2"}, dst.feed.topics())
	require.Contains(t, dst.feed.left(), "messages:old")
	require.NotEmpty(t, dst.notes.list)
}

func TestImportKeepsCurrentSession(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{
		internal.CreateTestSession("s1", 0),
		internal.CreateTestSession("s2", time.Hour),
	})
	h.start()
	require.NoError(t, h.engine.OpenSession(h.ctx, "s1"))

	var buf bytes.Buffer
	require.NoError(t, h.engine.Export(h.ctx, &buf))
	require.NoError(t, h.engine.Import(h.ctx, &buf))
	require.Equal(t, "s1", h.snapshot().CurrentID)
}

func TestImportRejectsOtherVersions(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.start()
	before := h.dump()

	err := h.engine.Import(h.ctx, strings.NewReader(`{"version":2,"sessions":[],"messages":[],"attachments":[]}`))
	var verr *internal.ImportVersionError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 2, verr.Version)

	require.Equal(t, before, h.dump())
	require.Equal(t, []string{"s1"}, sessionIDs(h.snapshot().Sessions))
}

func TestImportRejectsDanglingReferences(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.start()
	before := h.dump()

	doc := `{"version":1,"exportDate":"2024-05-01T12:00:00.000Z","sessions":[],
		"messages":[{"id":"m1","sessionId":"ghost","role":"user","content":"x","timestamp":"2024-05-01T12:00:00.000Z"}],
		"attachments":[]}`
	require.Error(t, h.engine.Import(h.ctx, strings.NewReader(doc)))
	require.Equal(t, before, h.dump())
}
