package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/statebot/internal/channel"
)

func TestDescriptor(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	if a.Type() != Type {
		t.Fatalf("unexpected type: %s", a.Type())
	}
	desc := a.Descriptor()
	if desc.Capabilities.Commands {
		t.Fatalf("discord should not advertise a command menu")
	}
	if desc.OutboundPolicy.TextChunkLimit != textLimit {
		t.Fatalf("unexpected chunk limit: %d", desc.OutboundPolicy.TextChunkLimit)
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	if _, err := parseConfig(nil); err == nil {
		t.Fatalf("expected error for missing token")
	}
	cfg, err := parseConfig(map[string]any{"bot_token": " tok "})
	if err != nil || cfg.BotToken != "tok" {
		t.Fatalf("unexpected config: %+v %v", cfg, err)
	}
}

func TestToInboundMessage(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got, ok := toInboundMessage(&discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   " /help ",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		MessageReference: &discordgo.MessageReference{
			ChannelID: "c1",
			MessageID: "m0",
		},
	})
	if !ok {
		t.Fatalf("expected message")
	}
	if got.Channel != Type || got.Message.ID != "m1" || got.Message.Text != "/help" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.ReplyTarget != "c1" || got.Conversation.Type != "guild" {
		t.Fatalf("unexpected routing: %+v", got)
	}
	if got.Sender.SubjectID != "u1" || got.Sender.DisplayName != "Alice" {
		t.Fatalf("unexpected sender: %+v", got.Sender)
	}
	if got.Sender.Attribute(channel.AttrUsername) != "alice" || got.Sender.Attribute(channel.AttrFirstName) != "Alice" {
		t.Fatalf("unexpected attributes: %#v", got.Sender.Attributes)
	}
	if got.Message.Reply == nil || got.Message.Reply.MessageID != "m0" {
		t.Fatalf("unexpected reply: %+v", got.Message.Reply)
	}
	if !got.ReceivedAt.Equal(ts) {
		t.Fatalf("unexpected time: %v", got.ReceivedAt)
	}

	if _, ok := toInboundMessage(&discordgo.Message{Author: &discordgo.User{ID: "u1"}}); ok {
		t.Fatalf("empty message should be skipped")
	}
	dm, ok := toInboundMessage(&discordgo.Message{Content: "hi", ChannelID: "d1", Author: &discordgo.User{ID: "u2", Username: "bob"}})
	if !ok || dm.Conversation.Type != "direct" || dm.Sender.DisplayName != "bob" {
		t.Fatalf("unexpected direct message: %+v", dm)
	}
}

func TestCollectAttachments(t *testing.T) {
	t.Parallel()

	got := collectAttachments(&discordgo.Message{Attachments: []*discordgo.MessageAttachment{
		{ID: "1", URL: "https://cdn/a.png", Filename: "a.png", ContentType: "image/png", Size: 10},
		{ID: "2", URL: "https://cdn/b.gif", ContentType: "image/gif"},
		{ID: "3", URL: "https://cdn/c.mp4", ContentType: "video/mp4"},
		{ID: "4", URL: "https://cdn/d.ogg", ContentType: "audio/ogg"},
		{ID: "5", URL: "https://cdn/e.txt", Filename: "e.txt"},
		nil,
	}})
	want := []channel.AttachmentType{
		channel.AttachmentImage,
		channel.AttachmentGIF,
		channel.AttachmentVideo,
		channel.AttachmentAudio,
		channel.AttachmentFile,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected attachments: %+v", got)
	}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Fatalf("attachment %d: got %s, want %s", i, got[i].Type, typ)
		}
	}
	if got[0].Name != "a.png" || got[0].Size != 10 || got[0].PlatformKey != "1" {
		t.Fatalf("unexpected first attachment: %+v", got[0])
	}
}

func TestBuildMessageSend(t *testing.T) {
	t.Parallel()

	send, err := buildMessageSend("c1", channel.Message{
		Text:        "here",
		Attachments: []channel.Attachment{{URL: "https://cdn/a.png", Caption: "pic"}},
		Reply:       &channel.ReplyRef{MessageID: "m9"},
	})
	if err != nil {
		t.Fatalf("buildMessageSend: %v", err)
	}
	if send.Content != "here\npic\nhttps://cdn/a.png" {
		t.Fatalf("unexpected content: %q", send.Content)
	}
	if send.Reference == nil || send.Reference.MessageID != "m9" || send.Reference.ChannelID != "c1" {
		t.Fatalf("unexpected reference: %+v", send.Reference)
	}

	if _, err := buildMessageSend("c1", channel.Message{}); err == nil {
		t.Fatalf("expected error for empty message")
	}
	if _, err := buildMessageSend("c1", channel.Message{Attachments: []channel.Attachment{{}}}); err == nil {
		t.Fatalf("expected error for attachment without reference")
	}
}

func TestSendValidatesBeforeConnecting(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	cfg := channel.ChannelConfig{ID: "d", Credentials: map[string]any{"botToken": "tok"}}
	ctx := context.Background()
	if err := a.Send(ctx, cfg, channel.OutboundMessage{Message: channel.Message{Text: "x"}}); err == nil {
		t.Fatalf("expected error for empty target")
	}
	if err := a.Send(ctx, cfg, channel.OutboundMessage{Target: "c1"}); err == nil {
		t.Fatalf("expected error for empty message")
	}
	if len(a.sessions) != 0 {
		t.Fatalf("no session should be created for invalid input")
	}
}

func TestIsDuplicateInbound(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	if a.isDuplicateInbound("tok", "m1") {
		t.Fatalf("first delivery is not a duplicate")
	}
	if !a.isDuplicateInbound("tok", "m1") {
		t.Fatalf("second delivery should be a duplicate")
	}
	if a.isDuplicateInbound("other", "m1") {
		t.Fatalf("dedup is scoped by token")
	}
	if a.isDuplicateInbound("", "m1") || a.isDuplicateInbound("tok", "") {
		t.Fatalf("blank keys are never duplicates")
	}

	a.mu.Lock()
	a.seenMessages["tok:old"] = time.Now().Add(-2 * inboundDedupTTL)
	a.mu.Unlock()
	if a.isDuplicateInbound("tok", "old") {
		t.Fatalf("expired entry should be evicted")
	}
}

func TestSwapAndClearSessionState(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	removed := 0
	a.swapHandlerRemover("tok", func() { removed++ })
	a.swapHandlerRemover("tok", func() { removed += 10 })
	if removed != 1 {
		t.Fatalf("old handler should be removed once, got %d", removed)
	}
	if remove := a.clearSessionState("tok"); remove == nil {
		t.Fatalf("expected remover")
	} else {
		remove()
	}
	if removed != 11 {
		t.Fatalf("unexpected removals: %d", removed)
	}
	if a.clearSessionState("tok") != nil {
		t.Fatalf("state should be cleared")
	}
}
