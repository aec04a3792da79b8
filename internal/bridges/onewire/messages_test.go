package onewire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", NewTopics("onewire").State("temp1"), "onewire/state/temp1"},
		{"ack", NewTopics("onewire").Ack("relay"), "onewire/ack/relay"},
		{"response", NewTopics("onewire").Response("req-1"), "onewire/response/req-1"},
		{"health", NewTopics("onewire").Health(), "onewire/health"},
		{"trimmed prefix", NewTopics("/home/1wire/").Health(), "home/1wire/health"},
		{"default prefix", NewTopics("").State("temp1"), "onewire/state/temp1"},
		{"command pattern", NewTopics("onewire").CommandSubscribe(), "onewire/command/+"},
		{"request pattern", NewTopics("onewire").RequestSubscribe(), "onewire/request/+"},
		{"config pattern", NewTopics("onewire").ConfigSubscribe(), "onewire/config/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsParse(t *testing.T) {
	topics := NewTopics("home/onewire")

	tests := []struct {
		topic    string
		wantKind string
		wantID   string
		wantOK   bool
	}{
		{"home/onewire/command/temp1", "command", "temp1", true},
		{"home/onewire/request/req-1", "request", "req-1", true},
		{"home/onewire/config/relay", "config", "relay", true},
		{"home/onewire/command", "", "", false},
		{"home/onewire/command/", "", "", false},
		{"home/onewire/command/a/b", "", "", false},
		{"other/command/temp1", "", "", false},
		{"home/onewirex/command/temp1", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, id, ok := topics.Parse(tt.topic)
			if kind != tt.wantKind || id != tt.wantID || ok != tt.wantOK {
				t.Errorf("Parse(%q) = %q, %q, %v; want %q, %q, %v",
					tt.topic, kind, id, ok, tt.wantKind, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestNewStateMessage(t *testing.T) {
	item := binding.Item{Name: "relay", Kind: binding.KindSwitch}

	msg := NewStateMessage(item, binding.On)
	if msg.Item != "relay" || msg.Kind != binding.KindSwitch || msg.State != "ON" || msg.Value != true {
		t.Errorf("NewStateMessage(ON) = %+v", msg)
	}
	if msg.Timestamp.IsZero() || msg.Timestamp.Location().String() != "UTC" {
		t.Errorf("timestamp = %v, want UTC now", msg.Timestamp)
	}

	msg = NewStateMessage(item, binding.UnDef)
	if msg.State != "UNDEF" || msg.Value != nil {
		t.Errorf("NewStateMessage(UNDEF) = %+v", msg)
	}
}

func TestCommandErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", ErrUnknownItem), ErrCodeNotConfigured},
		{fmt.Errorf("%w: x", ErrNotWritable), ErrCodeNotWritable},
		{fmt.Errorf("relay: %w", binding.ErrInvalidCommand), ErrCodeInvalidCommand},
		{errors.New("write failed"), ErrCodeBusError},
	}
	for _, tt := range tests {
		if got := commandErrorCode(tt.err); got != tt.want {
			t.Errorf("commandErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
