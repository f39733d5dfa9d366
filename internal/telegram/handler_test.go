package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rangewatch/internal/fetcher"
	"rangewatch/internal/monitor"
	"rangewatch/internal/registry"
	"rangewatch/internal/service"
)

type fakeController struct {
	reg      *registry.Registry
	zones    map[string]monitor.Zone
	features monitor.Features
	prices   map[string]string
	listErr  error
	edits    int
}

func newFakeController() *fakeController {
	return &fakeController{
		reg:      registry.New(),
		zones:    map[string]monitor.Zone{},
		features: monitor.Features{OneHourWarning: true, BackInRangeAlert: true},
		prices:   map[string]string{},
	}
}

func (f *fakeController) AddPool(_ context.Context, pool registry.PoolConfig) (registry.PoolConfig, error) {
	if err := registry.ValidatePool(pool); err != nil {
		return registry.PoolConfig{}, err
	}
	return pool, f.reg.Add(pool)
}

func (f *fakeController) EditPool(_ context.Context, index int, poolID string, lower, upper decimal.Decimal) (registry.PoolConfig, error) {
	f.edits++
	current, err := f.reg.At(index)
	if err != nil {
		return registry.PoolConfig{}, err
	}
	if poolID != "" && current.ID != poolID {
		return registry.PoolConfig{}, registry.ErrPoolMoved
	}
	return f.reg.Edit(index, lower, upper)
}

func (f *fakeController) RemovePool(_ context.Context, index int) (registry.PoolConfig, error) {
	return f.reg.Remove(index)
}

func (f *fakeController) ListPools(context.Context) ([]service.PoolStatus, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []service.PoolStatus
	for _, p := range f.reg.List() {
		out = append(out, service.PoolStatus{Pool: p, Zone: f.zones[p.ID], InRange: 2 * time.Hour})
	}
	return out, nil
}

func (f *fakeController) ToggleFeature(_ context.Context, ref string) (string, bool, error) {
	name, err := monitor.ResolveFeature(ref)
	if err != nil {
		return "", false, err
	}
	switch name {
	case monitor.FeatureOneHourWarning:
		f.features.OneHourWarning = !f.features.OneHourWarning
		return name, f.features.OneHourWarning, nil
	default:
		f.features.BackInRangeAlert = !f.features.BackInRangeAlert
		return name, f.features.BackInRangeAlert, nil
	}
}

func (f *fakeController) Features(context.Context) (monitor.Features, error) {
	return f.features, nil
}

func (f *fakeController) CheckPrices(context.Context) ([]service.PriceReport, error) {
	var out []service.PriceReport
	for _, p := range f.reg.List() {
		raw, ok := f.prices[p.ID]
		if !ok {
			out = append(out, service.PriceReport{Pool: p, Err: fmt.Errorf("%w: unavailable", fetcher.ErrFetch)})
			continue
		}
		out = append(out, service.PriceReport{Pool: p, Price: decimal.RequireFromString(raw)})
	}
	return out, nil
}

func newTestHandler() (*Handler, *fakeController) {
	ctrl := newFakeController()
	return NewHandler(ctrl, zerolog.Nop()), ctrl
}

func send(t *testing.T, h *Handler, text string) string {
	t.Helper()
	replies := h.Handle(context.Background(), 1, text)
	parts := make([]string, 0, len(replies))
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n---\n")
}

func mustContain(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Fatalf("reply %q missing %q", got, want)
		}
	}
}

func TestStartAndHelp(t *testing.T) {
	h, _ := newTestHandler()
	mustContain(t, send(t, h, "/start"), "/list", "/add", "/toggle")
	mustContain(t, send(t, h, "/help@RangeWatchBot"), "/start")
	mustContain(t, send(t, h, "/bogus"), "Unknown command")
}

func TestPlainTextWithoutSessionIsIgnored(t *testing.T) {
	h, _ := newTestHandler()
	if replies := h.Handle(context.Background(), 1, "hello"); replies != nil {
		t.Fatalf("expected no reply, got %+v", replies)
	}
}

func TestAddFlow(t *testing.T) {
	h, ctrl := newTestHandler()
	mustContain(t, send(t, h, "/add"), "PoolID")

	mustContain(t, send(t, h, "0xabc\nUSDT/USDC"), "4-5 lines")
	mustContain(t, send(t, h, "0xabc\nUSDT/USDC\nabc\n1.002"), "Invalid data")
	mustContain(t, send(t, h, "0xabc\nUSDT/USDC\n2\n1"), "Min must not be greater than Max")

	reply := send(t, h, "0xabc\nUSDT/USDC\n0.998\n1.002\nTRUE")
	mustContain(t, reply, "Pool added", "USDT/USDC", "0.998 - 1.002", "Invert: true", "6/6")

	pool, err := ctrl.reg.Get("0xabc")
	if err != nil || !pool.Invert {
		t.Fatalf("pool not added: %+v %v", pool, err)
	}
	if replies := h.Handle(context.Background(), 1, "0xdef\nX\n1\n2"); replies != nil {
		t.Fatalf("session should be closed after a successful add, got %+v", replies)
	}
}

func TestAddDuplicateKeepsSession(t *testing.T) {
	h, ctrl := newTestHandler()
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xabc", "A", decimal.NewFromInt(1), decimal.NewFromInt(2), false))

	send(t, h, "/add")
	mustContain(t, send(t, h, "0xabc\nA\n1\n2"), "already tracked")
	mustContain(t, send(t, h, "0xdef\nB\n1\n2"), "Pool added")
	if ctrl.reg.Len() != 2 {
		t.Fatalf("expected 2 pools, got %d", ctrl.reg.Len())
	}
}

func TestListFormatting(t *testing.T) {
	h, ctrl := newTestHandler()
	mustContain(t, send(t, h, "/list"), "No pools")

	_ = ctrl.reg.Add(registry.NewPoolConfig("0xb556fc22cef37bee2ab045bfbbd370f4", "USDT/USDC", decimal.RequireFromString("0.998"), decimal.RequireFromString("1.002"), false))
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xshort", "SUI/USDC", decimal.NewFromInt(1), decimal.NewFromInt(2), true))
	ctrl.zones["0xshort"] = monitor.ZoneOutside

	reply := send(t, h, "/list")
	mustContain(t, reply,
		"✅ *1. USDT/USDC*",
		"`0xb556fc22cef37bee2a...`",
		"Range: 0.998 - 1.002",
		"⚠️ *2. SUI/USDC*",
		"Invert: true",
		"Time in range: 2 hours",
	)
}

func TestStatusReportsLivePrices(t *testing.T) {
	h, ctrl := newTestHandler()
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xa", "A", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xb", "B", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xc", "C", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	ctrl.prices["0xa"] = "1.5"
	ctrl.prices["0xb"] = "4"

	replies := h.Handle(context.Background(), 1, "/status")
	if len(replies) != 2 {
		t.Fatalf("expected progress and result replies, got %d", len(replies))
	}
	mustContain(t, replies[0].Text, "Checking prices")
	mustContain(t, replies[1].Text,
		"✅ *A*", "`1.50000000` (Normal)",
		"⚠️ *B*", "`4.00000000` (OUT OF RANGE)",
		"❌ *C*: price unavailable",
	)
}

func TestEditFlow(t *testing.T) {
	h, ctrl := newTestHandler()
	mustContain(t, send(t, h, "/edit"), "No pools to edit")

	_ = ctrl.reg.Add(registry.NewPoolConfig("0xa", "A", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	mustContain(t, send(t, h, "/edit"), "1. A (Range: 1 - 2)")
	mustContain(t, send(t, h, "7"), "Invalid number")
	mustContain(t, send(t, h, "1"), "Editing *A*")
	mustContain(t, send(t, h, "0.5"), "Exactly 2 lines")
	mustContain(t, send(t, h, "0.5\nx"), "Invalid data")
	mustContain(t, send(t, h, "0.5\n3"), "Updated A", "New range: 0.5 - 3", "reset")

	pool, _ := ctrl.reg.Get("0xa")
	if !pool.Min.Equal(decimal.RequireFromString("0.5")) || !pool.Max.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("bounds not updated: %+v", pool)
	}
	if ctrl.edits != 1 {
		t.Fatalf("expected one edit, got %d", ctrl.edits)
	}
}

func TestEditRejectsShiftedPosition(t *testing.T) {
	h, ctrl := newTestHandler()
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xa", "A", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xb", "B", decimal.NewFromInt(1), decimal.NewFromInt(2), false))

	send(t, h, "/edit")
	mustContain(t, send(t, h, "1"), "Editing *A*")

	// another chat removes A; B slides into position 1
	if _, err := ctrl.reg.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	mustContain(t, send(t, h, "5\n6"), "pool list changed")

	b, _ := ctrl.reg.Get("0xb")
	if !b.Min.Equal(decimal.NewFromInt(1)) || !b.Max.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("edit must not land on another pool: %+v", b)
	}
	if got := send(t, h, "5\n6"); got != "" {
		t.Fatalf("session should be cleared, got %q", got)
	}
}

func TestRemoveFlow(t *testing.T) {
	h, ctrl := newTestHandler()
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xa", "A", decimal.NewFromInt(1), decimal.NewFromInt(2), false))
	_ = ctrl.reg.Add(registry.NewPoolConfig("0xb", "B", decimal.NewFromInt(1), decimal.NewFromInt(2), false))

	mustContain(t, send(t, h, "/remove"), "1. A", "2. B")
	mustContain(t, send(t, h, "zero"), "Invalid number")
	mustContain(t, send(t, h, "3"), "Invalid number")
	mustContain(t, send(t, h, "2"), "Removed pool: *B*")
	if ctrl.reg.Len() != 1 {
		t.Fatalf("expected 1 pool, got %d", ctrl.reg.Len())
	}
}

func TestToggleFlow(t *testing.T) {
	h, ctrl := newTestHandler()
	mustContain(t, send(t, h, "/toggle"), "1. oneHourWarning: *ON*", "2. backInRangeAlert: *ON*")
	mustContain(t, send(t, h, "nope"), "Unknown feature")
	mustContain(t, send(t, h, "backinrangealert"), "*backInRangeAlert* disabled")
	if ctrl.features.BackInRangeAlert {
		t.Fatal("feature should be off")
	}
	mustContain(t, send(t, h, "/toggle"), "2. backInRangeAlert: *OFF*")
	mustContain(t, send(t, h, "1"), "*oneHourWarning* disabled")
}

func TestCancelClearsSession(t *testing.T) {
	h, ctrl := newTestHandler()
	send(t, h, "/add")
	mustContain(t, send(t, h, "/cancel"), "cancelled")
	if replies := h.Handle(context.Background(), 1, "0xa\nA\n1\n2"); replies != nil {
		t.Fatalf("expected no reply after cancel, got %+v", replies)
	}
	if ctrl.reg.Len() != 0 {
		t.Fatal("nothing should be added after cancel")
	}
}

func TestSessionsArePerChat(t *testing.T) {
	h, ctrl := newTestHandler()
	h.Handle(context.Background(), 1, "/add")
	if replies := h.Handle(context.Background(), 2, "0xa\nA\n1\n2"); replies != nil {
		t.Fatalf("chat 2 has no session, got %+v", replies)
	}
	h.Handle(context.Background(), 1, "0xa\nA\n1\n2")
	if ctrl.reg.Len() != 1 {
		t.Fatalf("expected 1 pool, got %d", ctrl.reg.Len())
	}
}

func TestStoppedServiceReply(t *testing.T) {
	h, ctrl := newTestHandler()
	ctrl.listErr = service.ErrStopped
	mustContain(t, send(t, h, "/list"), "shutting down")

	ctrl.listErr = errors.New("boom")
	mustContain(t, send(t, h, "/list"), "Something went wrong")
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "0 seconds",
		2 * time.Hour:    "2 hours",
		90 * time.Minute: "1 hour",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Errorf("%s: expected %q, got %q", d, want, got)
		}
	}
}
