package channel_test

import (
	"context"
	"testing"

	"github.com/memohai/statebot/internal/channel"
)

const testChannelType = channel.ChannelType("test")

type descriptorOnlyAdapter struct {
	channelType channel.ChannelType
}

func (a *descriptorOnlyAdapter) Type() channel.ChannelType { return a.channelType }

func (a *descriptorOnlyAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: a.channelType, DisplayName: "Test"}
}

type sendingAdapter struct {
	descriptorOnlyAdapter
}

func (a *sendingAdapter) Send(context.Context, channel.ChannelConfig, channel.OutboundMessage) error {
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&descriptorOnlyAdapter{channelType: "Test"})

	if _, ok := reg.Get(testChannelType); !ok {
		t.Fatalf("expected adapter registered under normalized type")
	}
	if err := reg.Register(&descriptorOnlyAdapter{channelType: testChannelType}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	if err := reg.Register(&descriptorOnlyAdapter{channelType: "  "}); err == nil {
		t.Fatalf("expected empty channel type to fail")
	}
}

func TestRegistryCapabilityAccessors(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&descriptorOnlyAdapter{channelType: "plain"})
	reg.MustRegister(&sendingAdapter{descriptorOnlyAdapter{channelType: "sender"}})

	if sender, ok := reg.GetSender("plain"); ok || sender != nil {
		t.Fatalf("GetSender(plain) = (%v, %v), want (nil, false)", sender, ok)
	}
	if sender, ok := reg.GetSender("sender"); !ok || sender == nil {
		t.Fatalf("GetSender(sender) should return the adapter")
	}
	if receiver, ok := reg.GetReceiver("sender"); ok || receiver != nil {
		t.Fatalf("GetReceiver(sender) = (%v, %v), want (nil, false)", receiver, ok)
	}
	if _, ok := reg.GetDescriptor("unknown"); ok {
		t.Fatalf("expected no descriptor for unknown type")
	}
}

func TestRegistryTypesAndParse(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&descriptorOnlyAdapter{channelType: "telegram"})
	reg.MustRegister(&descriptorOnlyAdapter{channelType: "discord"})

	types := reg.Types()
	if len(types) != 2 || types[0] != "discord" || types[1] != "telegram" {
		t.Fatalf("unexpected types: %v", types)
	}
	ct, err := reg.ParseChannelType(" Telegram ")
	if err != nil || ct != "telegram" {
		t.Fatalf("ParseChannelType = (%q, %v)", ct, err)
	}
	if _, err := reg.ParseChannelType("matrix"); err == nil {
		t.Fatalf("expected unsupported channel type error")
	}
	if !reg.Unregister("discord") || reg.Unregister("discord") {
		t.Fatalf("unexpected Unregister result")
	}
}
