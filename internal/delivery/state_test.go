package delivery

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	logx "schedbot/pkg/logx"
)

func newTestState(t *testing.T, opts ...Option) *State {
	t.Helper()
	return NewState("", logx.Nop(), opts...)
}

func mustAddChannel(t *testing.T, s *State, name, dest string) {
	t.Helper()
	if _, err := s.Channels.Add(name, dest); err != nil {
		t.Fatalf("Add(%q, %q): %v", name, dest, err)
	}
}

func TestRegistryAddValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		channel string
		dest    string
		wantErr error
	}{
		{name: "valid", channel: "News", dest: "-1001234567890"},
		{name: "empty name", channel: "  ", dest: "-1001234567890", wantErr: ErrInvalidName},
		{name: "missing prefix", channel: "news", dest: "1234567890", wantErr: ErrInvalidDestination},
		{name: "prefix only", channel: "news", dest: "-100", wantErr: ErrInvalidDestination},
		{name: "non numeric tail", channel: "news", dest: "-100abc", wantErr: ErrInvalidDestination},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestState(t)
			_, err := s.Channels.Add(tt.channel, tt.dest)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Add: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Add error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryCanonicalizesAndRejectsDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestState(t)

	ch, err := s.Channels.Add("  NewsFlash  ", "-1001")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ch.Name != "newsflash" {
		t.Fatalf("canonical name = %q, want %q", ch.Name, "newsflash")
	}

	if _, err := s.Channels.Add("NEWSFLASH", "-1002"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Add error = %v, want ErrDuplicateName", err)
	}

	dest, err := s.Channels.Resolve("NewsFlash")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dest != "-1001" {
		t.Fatalf("Resolve = %q, want %q", dest, "-1001")
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	s := newTestState(t)
	mustAddChannel(t, s, "news", "-1001")
	mustAddChannel(t, s, "alerts", "-1002")

	if _, err := s.Deliveries.Create(1, "news", "hello", time.Minute); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Channels.Remove("news"); !errors.Is(err, ErrChannelInUse) {
		t.Fatalf("Remove in-use error = %v, want ErrChannelInUse", err)
	}
	if err := s.Channels.Remove("missing"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("Remove missing error = %v, want ErrChannelNotFound", err)
	}
	if err := s.Channels.Remove("Alerts"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	got := s.Channels.List()
	if len(got) != 1 || got[0].Name != "news" {
		t.Fatalf("List after Remove = %+v", got)
	}
}

func TestStoreCreateValidation(t *testing.T) {
	t.Parallel()
	s := newTestState(t)
	mustAddChannel(t, s, "news", "-1001")

	tests := []struct {
		name    string
		channel string
		text    string
		delay   time.Duration
		wantErr error
	}{
		{name: "zero delay", channel: "news", text: "hi", delay: 0, wantErr: ErrInvalidDelay},
		{name: "negative delay", channel: "news", text: "hi", delay: -time.Minute, wantErr: ErrInvalidDelay},
		{name: "empty text", channel: "news", text: "   ", delay: time.Minute, wantErr: ErrEmptyText},
		{name: "too long", channel: "news", text: strings.Repeat("x", MaxTextLen+1), delay: time.Minute, wantErr: ErrTextTooLong},
		{name: "unknown channel", channel: "nope", text: "hi", delay: time.Minute, wantErr: ErrChannelNotFound},
		{name: "max length ok", channel: "news", text: strings.Repeat("x", MaxTextLen), delay: time.Minute},
		// The cap counts characters, not bytes: 2100 two-byte runes are
		// 4200 bytes but well under 4000 characters.
		{name: "multibyte under cap ok", channel: "news", text: strings.Repeat("é", 2100), delay: time.Minute},
		{name: "multibyte at cap ok", channel: "news", text: strings.Repeat("ж", MaxTextLen), delay: time.Minute},
		{name: "multibyte over cap", channel: "news", text: strings.Repeat("é", MaxTextLen+1), delay: time.Minute, wantErr: ErrTextTooLong},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Deliveries.Create(7, tt.channel, tt.text, tt.delay)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreCreateFixesDueAt(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestState(t, WithClock(func() time.Time { return base }))
	mustAddChannel(t, s, "news", "-1001")

	d, err := s.Deliveries.Create(42, "News", "hello", 30*time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !d.DueAt.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("DueAt = %v, want %v", d.DueAt, base.Add(30*time.Minute))
	}
	if !d.CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt = %v, want %v", d.CreatedAt, base)
	}
	if !d.Active {
		t.Fatal("new delivery should be active")
	}
	if d.ChannelName != "news" {
		t.Fatalf("ChannelName = %q, want canonical %q", d.ChannelName, "news")
	}
	if d.RequesterChatID != 42 {
		t.Fatalf("RequesterChatID = %d, want 42", d.RequesterChatID)
	}
}

func TestStoreIDsUniqueAndOrdered(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestState(t, WithClock(func() time.Time { return base }))
	mustAddChannel(t, s, "news", "-1001")

	var ids []string
	for i := 0; i < 3; i++ {
		d, err := s.Deliveries.Create(1, "news", "hi", time.Minute)
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		ids = append(ids, d.ID)
	}
	if ids[0] != "msg_1748779200" {
		t.Fatalf("first id = %q", ids[0])
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}

	pending := s.Deliveries.ListPending()
	if len(pending) != 3 {
		t.Fatalf("ListPending len = %d, want 3", len(pending))
	}
	for i, d := range pending {
		if d.ID != ids[i] {
			t.Fatalf("pending[%d].ID = %q, want %q (creation order)", i, d.ID, ids[i])
		}
	}
}

func TestStoreSetActivePreservesFields(t *testing.T) {
	t.Parallel()
	s := newTestState(t)
	mustAddChannel(t, s, "news", "-1001")

	d, err := s.Deliveries.Create(1, "news", "keep me", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Deliveries.SetActive(d.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := s.Deliveries.Get(d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Active {
		t.Fatal("delivery should be disabled")
	}
	if got.Text != d.Text || !got.DueAt.Equal(d.DueAt) {
		t.Fatalf("SetActive mutated text/due: %+v", got)
	}

	if err := s.Deliveries.SetActive("missing", true); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("SetActive missing error = %v, want ErrDeliveryNotFound", err)
	}
}

func TestStoreNeverReissuesRetiredID(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestState(t, WithClock(func() time.Time { return base }))
	mustAddChannel(t, s, "news", "-1001")

	first, err := s.Deliveries.Create(1, "news", "one", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Deliveries.Retire(first.ID); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	// Same clock second: the retired id must not come back.
	second, err := s.Deliveries.Create(1, "news", "two", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("retired id %q was reissued", first.ID)
	}

	if err := s.Deliveries.Delete(second.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	third, err := s.Deliveries.Create(1, "news", "three", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if third.ID == first.ID || third.ID == second.ID {
		t.Fatalf("id %q collides with an earlier delivery", third.ID)
	}
}

func TestRetireAndDeleteEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestState(t, WithBus(bus))
	mustAddChannel(t, s, "news", "-1001")

	drain := func() []string {
		var types []string
		for {
			select {
			case ev := <-events:
				types = append(types, ev.Type)
			default:
				return types
			}
		}
	}

	d, err := s.Deliveries.Create(1, "news", "fired", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Deliveries.Retire(d.ID); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	// A fire conclusion is announced by the dispatcher, not the store:
	// Retire must stay silent so observers don't see a phantom deletion.
	got := drain()
	if len(got) != 1 || got[0] != eventbus.TypeDeliveryCreated {
		t.Fatalf("events after Retire = %v, want [%s]", got, eventbus.TypeDeliveryCreated)
	}

	d2, err := s.Deliveries.Create(1, "news", "deleted", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Deliveries.Delete(d2.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got = drain()
	want := []string{eventbus.TypeDeliveryCreated, eventbus.TypeDeliveryDeleted}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events after Delete = %v, want %v", got, want)
	}
}

func TestStoreRetireSecondCallReportsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestState(t)
	mustAddChannel(t, s, "news", "-1001")

	d, err := s.Deliveries.Create(1, "news", "bye", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Deliveries.Retire(d.ID); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if err := s.Deliveries.Retire(d.ID); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("second Retire error = %v, want ErrDeliveryNotFound", err)
	}
	if _, err := s.Deliveries.Get(d.ID); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("Get after Retire error = %v, want ErrDeliveryNotFound", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s1 := NewState(dir, logx.Nop(), WithClock(func() time.Time { return base }))
	mustAddChannel(t, s1, "news", "-1001")
	mustAddChannel(t, s1, "alerts", "-1002")
	d, err := s1.Deliveries.Create(9, "news", "persisted", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s1.Deliveries.SetActive(d.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	s2 := NewState(dir, logx.Nop())
	s2.Load()

	chans := s2.Channels.List()
	if len(chans) != 2 || chans[0].Name != "news" || chans[1].Name != "alerts" {
		t.Fatalf("loaded channels = %+v", chans)
	}
	got, err := s2.Deliveries.Get(d.ID)
	if err != nil {
		t.Fatalf("Get after load: %v", err)
	}
	if got.Active {
		t.Fatal("loaded delivery should still be disabled")
	}
	if got.Text != "persisted" || !got.DueAt.Equal(d.DueAt) {
		t.Fatalf("loaded delivery = %+v", got)
	}
}

func TestLoadCorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{channelsFile, deliveriesFile} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("write corrupt %s: %v", name, err)
		}
	}

	s := NewState(dir, logx.Nop())
	s.Load()

	if got := s.Channels.List(); len(got) != 0 {
		t.Fatalf("channels after corrupt load = %+v, want empty", got)
	}
	if got := s.Deliveries.ListPending(); len(got) != 0 {
		t.Fatalf("deliveries after corrupt load = %+v, want empty", got)
	}

	// Still writable after a corrupt load.
	mustAddChannel(t, s, "news", "-1001")
	if _, err := s.Deliveries.Create(1, "news", "ok", time.Minute); err != nil {
		t.Fatalf("Create after corrupt load: %v", err)
	}
}

func TestSnapshotFileShape(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewState(dir, logx.Nop())
	mustAddChannel(t, s, "news", "-1001")

	raw, err := os.ReadFile(filepath.Join(dir, channelsFile))
	if err != nil {
		t.Fatalf("read %s: %v", channelsFile, err)
	}
	var chans []Channel
	if err := json.Unmarshal(raw, &chans); err != nil {
		t.Fatalf("unmarshal channels: %v", err)
	}
	if len(chans) != 1 || chans[0].DestinationID != "-1001" {
		t.Fatalf("channels file = %+v", chans)
	}
}
