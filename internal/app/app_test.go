package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rangewatch/internal/alerting"
	"rangewatch/internal/config"
)

const rawOne = "18446744073709551616"

func suiServer(t *testing.T, respond func(id json.RawMessage) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(req.ID)))
	}))
}

func testConfig(rpcURL string) *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
		Sui:       config.SuiConfig{RPCURL: rpcURL, RequestTimeout: 2 * time.Second},
		Alerting: config.AlertingConfig{
			Enabled:            true,
			Channels:           []string{config.ChannelConsole},
			NotifyTimeout:      time.Second,
			EscalationInterval: time.Hour,
			OneHourWarning:     true,
			BackInRangeAlert:   true,
		},
	}
}

func newTestApp(cfg *config.Config, logs *bytes.Buffer) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	logger := zerolog.Nop()
	if logs != nil {
		logger = zerolog.New(logs)
	}
	return &App{Config: cfg, Logger: logger, Out: out}, out
}

func TestPricePrintsDisplayPrecision(t *testing.T) {
	a, out := newTestApp(testConfig(""), nil)
	if err := a.Price(PriceOptions{Raw: rawOne, Decimals0: 6, Decimals1: 6}); err != nil {
		t.Fatalf("price should succeed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "1.00000000" {
		t.Fatalf("unexpected price output %q", got)
	}
}

func TestPriceRejectsGarbage(t *testing.T) {
	a, _ := newTestApp(testConfig(""), nil)
	if err := a.Price(PriceOptions{Raw: "not-a-number", Decimals0: 6, Decimals1: 6}); err == nil {
		t.Fatal("expected error for non-numeric sqrt price")
	}
}

func TestCheckPrintsZonePerPool(t *testing.T) {
	srv := suiServer(t, func(id json.RawMessage) string {
		return `{"jsonrpc":"2.0","id":` + string(id) + `,"result":[{"data":{"objectId":"0x1","content":{"dataType":"moveObject","fields":{"sqrt_price":"` + rawOne + `"}}}}]}`
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Pools = []config.PoolEntry{
		{ID: "0xinside", Name: "IN/RANGE", Min: decimal.RequireFromString("0.5"), Max: decimal.NewFromInt(2)},
		{ID: "0xoutside", Name: "OUT/RANGE", Min: decimal.NewFromInt(2), Max: decimal.NewFromInt(3)},
	}
	a, out := newTestApp(cfg, nil)

	if err := a.Check(context.Background()); err != nil {
		t.Fatalf("check should succeed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "IN/RANGE") || !strings.Contains(lines[1], "inside") {
		t.Fatalf("first row should be inside: %q", lines[1])
	}
	if !strings.Contains(lines[2], "OUT/RANGE") || !strings.Contains(lines[2], "OUTSIDE") {
		t.Fatalf("second row should be outside: %q", lines[2])
	}
	if !strings.Contains(lines[1], "1.00000000") {
		t.Fatalf("row should carry the formatted price: %q", lines[1])
	}
}

func TestCheckFailsWhenEveryPoolFails(t *testing.T) {
	srv := suiServer(t, func(id json.RawMessage) string {
		return `{"jsonrpc":"2.0","id":` + string(id) + `,"error":{"code":-32000,"message":"object not found"}}`
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Pools = []config.PoolEntry{{ID: "0xgone", Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(2)}}
	a, out := newTestApp(cfg, nil)

	if err := a.Check(context.Background()); err == nil {
		t.Fatal("expected error when every pool fails")
	}
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("failed pool should be reported in the table: %q", out.String())
	}
}

func TestCheckRequiresPools(t *testing.T) {
	a, _ := newTestApp(testConfig("http://127.0.0.1:1"), nil)
	if err := a.Check(context.Background()); err == nil {
		t.Fatal("expected error without pools")
	}
}

func TestNewNotifierSelection(t *testing.T) {
	cases := []struct {
		name     string
		channels []string
		telegram bool
		check    func(t *testing.T, n alerting.Notifier)
	}{
		{
			name: "no channels",
			check: func(t *testing.T, n alerting.Notifier) {
				if n != nil {
					t.Fatalf("expected nil notifier, got %T", n)
				}
			},
		},
		{
			name:     "console only",
			channels: []string{"console"},
			check: func(t *testing.T, n alerting.Notifier) {
				if _, ok := n.(*alerting.ConsoleNotifier); !ok {
					t.Fatalf("expected console notifier, got %T", n)
				}
			},
		},
		{
			name:     "telegram listed but disabled",
			channels: []string{"console", "telegram"},
			check: func(t *testing.T, n alerting.Notifier) {
				if _, ok := n.(*alerting.ConsoleNotifier); !ok {
					t.Fatalf("expected console notifier only, got %T", n)
				}
			},
		},
		{
			name:     "console and telegram",
			channels: []string{"console", "telegram"},
			telegram: true,
			check: func(t *testing.T, n alerting.Notifier) {
				multi, ok := n.(alerting.Multi)
				if !ok || len(multi) != 2 {
					t.Fatalf("expected two notifiers, got %#v", n)
				}
			},
		},
		{
			name:     "telegram only",
			channels: []string{"Telegram"},
			telegram: true,
			check: func(t *testing.T, n alerting.Notifier) {
				if _, ok := n.(*alerting.TelegramNotifier); !ok {
					t.Fatalf("expected telegram notifier, got %T", n)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig("")
			cfg.Alerting.Channels = tc.channels
			cfg.Alerting.Telegram = config.TelegramConfig{Enabled: tc.telegram, BotToken: "token", ChatID: "42"}
			a, _ := newTestApp(cfg, nil)
			tc.check(t, a.newNotifier())
		})
	}
}

func TestSimulateAlertSendsBreach(t *testing.T) {
	logs := &bytes.Buffer{}
	a, _ := newTestApp(testConfig(""), logs)

	err := a.SimulateAlert(context.Background(), SimulateOptions{
		Name:      "SIM/USDC",
		SqrtPrice: "36893488147419103232",
		Min:       decimal.RequireFromString("0.5"),
		Max:       decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("simulate should succeed: %v", err)
	}
	if !strings.Contains(logs.String(), "SIM/USDC Price Alert") {
		t.Fatalf("expected breach notification in logs, got %q", logs.String())
	}
}

func TestSimulateAlertRequiresChannel(t *testing.T) {
	cfg := testConfig("")
	cfg.Alerting.Channels = nil
	a, _ := newTestApp(cfg, nil)

	err := a.SimulateAlert(context.Background(), SimulateOptions{
		SqrtPrice: rawOne,
		Min:       decimal.NewFromInt(2),
		Max:       decimal.NewFromInt(3),
	})
	if err == nil {
		t.Fatal("expected error without alert channel")
	}
}

func TestAlertsRequiresDatabase(t *testing.T) {
	a, _ := newTestApp(testConfig(""), nil)
	if err := a.Alerts(context.Background(), AlertsOptions{Limit: 5}); err == nil {
		t.Fatal("expected error without database")
	}
	if err := a.PruneAlerts(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error without database")
	}
}
