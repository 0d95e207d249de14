package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// recordingTransport remembers the deliveries it accepted.
type recordingTransport struct {
	channel   db.Channel
	delivered []uuid.UUID
}

func (t *recordingTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	t.delivered = append(t.delivered, entry.ID)
	return nil
}

func (t *recordingTransport) SupportsChannel(channel db.Channel) bool {
	return channel == t.channel
}

func entryFor(channel db.Channel) (*db.DeliveryLogEntry, *db.Notification) {
	userID := uuid.New()
	notif := &db.Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    "order_filled",
		Title:   "Order filled",
		Message: "Your BTC limit order was filled",
	}
	entry := &db.DeliveryLogEntry{
		ID:             uuid.New(),
		NotificationID: notif.ID,
		UserID:         userID,
		Channel:        channel,
		Status:         db.DeliveryPending,
	}
	return entry, notif
}

func TestTransportRouter_RoutesByChannel(t *testing.T) {
	email := &recordingTransport{channel: db.ChannelEmail}
	sms := &recordingTransport{channel: db.ChannelSMS}
	router := NewTransportRouter(zap.NewNop(), email, sms)

	entry, notif := entryFor(db.ChannelSMS)
	if err := router.Deliver(context.Background(), entry, notif); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if len(sms.delivered) != 1 || sms.delivered[0] != entry.ID {
		t.Error("sms transport should have received the delivery")
	}
	if len(email.delivered) != 0 {
		t.Error("email transport should not have received the delivery")
	}
}

func TestTransportRouter_NoMatchingTransport(t *testing.T) {
	router := NewTransportRouter(zap.NewNop(), &recordingTransport{channel: db.ChannelEmail})

	entry, notif := entryFor(db.ChannelPush)
	err := router.Deliver(context.Background(), entry, notif)
	if err == nil {
		t.Fatal("expected error for unsupported channel")
	}
	if !strings.Contains(err.Error(), "no transport for channel") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTransportRouter_SupportsChannel(t *testing.T) {
	router := NewTransportRouter(zap.NewNop(),
		&recordingTransport{channel: db.ChannelEmail},
		&recordingTransport{channel: db.ChannelSMS},
	)

	if !router.SupportsChannel(db.ChannelEmail) {
		t.Error("router should support email")
	}
	if router.SupportsChannel(db.ChannelPush) {
		t.Error("router should not support push")
	}
}

func TestLogTransport_AcceptsAllChannels(t *testing.T) {
	transport := NewLogTransport(zap.NewNop())

	for _, channel := range db.Channels {
		if !transport.SupportsChannel(channel) {
			t.Errorf("log transport should support %s", channel)
		}
	}
	if transport.SupportsChannel(db.Channel("carrier_pigeon")) {
		t.Error("log transport should reject unknown channels")
	}

	entry, notif := entryFor(db.ChannelPush)
	if err := transport.Deliver(context.Background(), entry, notif); err != nil {
		t.Errorf("Deliver() error: %v", err)
	}
}

func TestDataField(t *testing.T) {
	notif := &db.Notification{ID: uuid.New()}

	t.Run("missing data", func(t *testing.T) {
		if _, err := dataField(notif, "email"); err == nil {
			t.Error("expected error for nil data")
		}
	})

	t.Run("malformed data", func(t *testing.T) {
		notif.Data = json.RawMessage(`not json`)
		if _, err := dataField(notif, "email"); err == nil {
			t.Error("expected error for malformed data")
		}
	})

	t.Run("missing field", func(t *testing.T) {
		notif.Data = json.RawMessage(`{"phone": "+15550100"}`)
		if _, err := dataField(notif, "email"); err == nil {
			t.Error("expected error for missing field")
		}
	})

	t.Run("non-string field", func(t *testing.T) {
		notif.Data = json.RawMessage(`{"email": 42}`)
		if _, err := dataField(notif, "email"); err == nil {
			t.Error("expected error for non-string field")
		}
	})

	t.Run("present", func(t *testing.T) {
		notif.Data = json.RawMessage(`{"email": "trader@example.com"}`)
		got, err := dataField(notif, "email")
		if err != nil {
			t.Fatalf("dataField() error: %v", err)
		}
		if got != "trader@example.com" {
			t.Errorf("dataField() = %q", got)
		}
	})
}
