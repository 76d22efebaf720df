package core

import (
	"testing"

	"github.com/marketchat/marketchat-server/internal/store"
)

func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case ev := <-c.Events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestRegistryFanOutToConversationRoom(t *testing.T) {
	r := NewRegistry()

	customer := NewClient("c1", "customer-1", store.RoleCustomer)
	vendor := NewClient("v1", "vendor-1", store.RoleVendor)
	outsider := NewClient("o1", "vendor-2", store.RoleVendor)

	r.Register(customer)
	r.Register(vendor)
	r.Register(outsider)

	r.JoinConversation(customer, "conv-1")
	r.JoinConversation(vendor, "conv-1")

	r.FanOutConversation("conv-1", Event{Name: EventNewMessage, ConversationID: "conv-1"})

	if got := drain(t, customer); len(got) != 1 || got[0].Name != EventNewMessage {
		t.Fatalf("customer events = %+v", got)
	}
	if got := drain(t, vendor); len(got) != 1 {
		t.Fatalf("vendor events = %+v", got)
	}
	if got := drain(t, outsider); len(got) != 0 {
		t.Fatalf("outsider should receive nothing, got %+v", got)
	}
}

func TestRegistryMultiDeviceFanOut(t *testing.T) {
	r := NewRegistry()

	phone := NewClient("d1", "user-1", store.RoleCustomer)
	laptop := NewClient("d2", "user-1", store.RoleCustomer)
	r.Register(phone)
	r.Register(laptop)

	r.NotifyUser("user-1", Event{Name: EventConversationUpdated, ConversationID: "conv-1"})

	if got := drain(t, phone); len(got) != 1 {
		t.Fatalf("phone events = %+v", got)
	}
	if got := drain(t, laptop); len(got) != 1 {
		t.Fatalf("laptop events = %+v", got)
	}
}

func TestRegistryUnregisterReportsLastConnection(t *testing.T) {
	r := NewRegistry()

	phone := NewClient("d1", "user-1", store.RoleCustomer)
	laptop := NewClient("d2", "user-1", store.RoleCustomer)
	r.Register(phone)
	r.Register(laptop)

	if last := r.Unregister(phone); last {
		t.Fatal("user still has a live connection")
	}
	if last := r.Unregister(laptop); !last {
		t.Fatal("last connection should be reported")
	}
	if n := r.Connections("user-1"); n != 0 {
		t.Fatalf("connections = %d, want 0", n)
	}
}

func TestRegistryUnregisterLeavesRooms(t *testing.T) {
	r := NewRegistry()

	a := NewClient("a", "user-a", store.RoleCustomer)
	b := NewClient("b", "user-b", store.RoleVendor)
	r.Register(a)
	r.Register(b)
	r.JoinConversation(a, "conv-1")
	r.JoinConversation(b, "conv-1")

	r.Unregister(a)
	r.FanOutConversation("conv-1", Event{Name: EventNewMessage})

	if got := drain(t, a); len(got) != 0 {
		t.Fatalf("unregistered client should receive nothing, got %+v", got)
	}
	if got := drain(t, b); len(got) != 1 {
		t.Fatalf("remaining client events = %+v", got)
	}
}

func TestRegistryDoubleJoinAndLeave(t *testing.T) {
	r := NewRegistry()

	c := NewClient("c", "user-c", store.RoleCustomer)
	r.Register(c)

	if !r.JoinConversation(c, "conv-1") {
		t.Fatal("first join should succeed")
	}
	if r.JoinConversation(c, "conv-1") {
		t.Fatal("second join should report already joined")
	}
	if !r.LeaveConversation(c, "conv-1") {
		t.Fatal("leave should succeed")
	}
	if r.LeaveConversation(c, "conv-1") {
		t.Fatal("second leave should report not joined")
	}
}
