package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rangewatch/internal/monitor"
	"rangewatch/internal/pricing"
	"rangewatch/internal/registry"
	"rangewatch/internal/service"
)

// Controller is the command surface of the monitoring service.
type Controller interface {
	AddPool(ctx context.Context, pool registry.PoolConfig) (registry.PoolConfig, error)
	EditPool(ctx context.Context, index int, poolID string, lower, upper decimal.Decimal) (registry.PoolConfig, error)
	RemovePool(ctx context.Context, index int) (registry.PoolConfig, error)
	ListPools(ctx context.Context) ([]service.PoolStatus, error)
	ToggleFeature(ctx context.Context, ref string) (string, bool, error)
	Features(ctx context.Context) (monitor.Features, error)
	CheckPrices(ctx context.Context) ([]service.PriceReport, error)
}

// Reply is one outgoing chat message.
type Reply struct {
	Text     string
	Markdown bool
}

type mode int

const (
	modeAdd mode = iota + 1
	modeEditPick
	modeEditValues
	modeRemove
	modeToggle
)

type session struct {
	mode   mode
	index  int
	poolID string
}

// Handler turns chat text into controller calls. Multi-step commands keep a
// pending session per chat.
type Handler struct {
	ctrl   Controller
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]session
}

// NewHandler constructs a Handler.
func NewHandler(ctrl Controller, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:     ctrl,
		logger:   logger.With().Str("component", "telegram_handler").Logger(),
		sessions: make(map[int64]session),
	}
}

// Handle processes one message and returns the replies to send.
func (h *Handler) Handle(ctx context.Context, chatID int64, text string) []Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return h.command(ctx, chatID, commandName(text))
	}

	sess, ok := h.session(chatID)
	if !ok {
		return nil
	}
	switch sess.mode {
	case modeAdd:
		return h.addPool(ctx, chatID, text)
	case modeEditPick:
		return h.pickEdit(ctx, chatID, text)
	case modeEditValues:
		return h.editValues(ctx, chatID, sess, text)
	case modeRemove:
		return h.removePool(ctx, chatID, text)
	case modeToggle:
		return h.toggle(ctx, chatID, text)
	}
	return nil
}

func commandName(text string) string {
	cmd := strings.Fields(text)[0]
	cmd = strings.TrimPrefix(cmd, "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

func (h *Handler) command(ctx context.Context, chatID int64, cmd string) []Reply {
	switch cmd {
	case "start":
		return markdown(helpText)
	case "help":
		return markdown("Send /start for the full guide.")
	case "list":
		return h.list(ctx)
	case "status":
		return h.status(ctx)
	case "add":
		h.setSession(chatID, session{mode: modeAdd})
		return markdown(addInstructions)
	case "edit":
		return h.startPick(ctx, chatID, modeEditPick)
	case "remove":
		return h.startPick(ctx, chatID, modeRemove)
	case "toggle":
		return h.showToggles(ctx, chatID)
	case "cancel":
		h.clearSession(chatID)
		return plain("❌ Operation cancelled.")
	default:
		return plain("Unknown command. Send /help.")
	}
}

func (h *Handler) list(ctx context.Context) []Reply {
	pools, err := h.ctrl.ListPools(ctx)
	if err != nil {
		return h.failure("list pools", err)
	}
	if len(pools) == 0 {
		return plain(noPoolsText)
	}

	var b strings.Builder
	b.WriteString("📊 *Tracked pools:*\n\n")
	for i, p := range pools {
		icon := "✅"
		if p.Zone == monitor.ZoneOutside {
			icon = "⚠️"
		}
		fmt.Fprintf(&b, "%s *%d. %s*\n", icon, i+1, p.Pool.Name)
		fmt.Fprintf(&b, "   ID: `%s`\n", shortID(p.Pool.ID))
		fmt.Fprintf(&b, "   Range: %s - %s\n", p.Pool.Min, p.Pool.Max)
		fmt.Fprintf(&b, "   Invert: %t\n", p.Pool.Invert)
		fmt.Fprintf(&b, "   Time in range: %s\n", humanDuration(p.InRange))
		if p.Zone == monitor.ZoneOutside && p.HasPrice() {
			fmt.Fprintf(&b, "   Outside for: %s\n", humanDuration(p.LastCheck.Sub(p.OutsideSince)))
		}
		if p.HasPrice() {
			fmt.Fprintf(&b, "   Last price: `%s`\n", pricing.FormatPrice(p.LastPrice))
		}
		b.WriteString("\n")
	}
	return markdown(b.String())
}

func (h *Handler) status(ctx context.Context) []Reply {
	replies := plain("🔄 Checking prices...")
	reports, err := h.ctrl.CheckPrices(ctx)
	if err != nil {
		return append(replies, h.failure("check prices", err)...)
	}
	if len(reports) == 0 {
		return append(replies, plain(noPoolsText)...)
	}

	var b strings.Builder
	b.WriteString("📈 *Current prices:*\n\n")
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(&b, "❌ *%s*: price unavailable\n\n", r.Pool.Name)
			continue
		}
		icon, label := "✅", "Normal"
		if !r.Inside() {
			icon, label = "⚠️", "OUT OF RANGE"
		}
		fmt.Fprintf(&b, "%s *%s*\n", icon, r.Pool.Name)
		fmt.Fprintf(&b, "   Price: `%s` (%s)\n", pricing.FormatPrice(r.Price), label)
		fmt.Fprintf(&b, "   Range: %s - %s\n\n", r.Pool.Min, r.Pool.Max)
	}
	return append(replies, markdown(b.String())...)
}

func (h *Handler) startPick(ctx context.Context, chatID int64, m mode) []Reply {
	pools, err := h.ctrl.ListPools(ctx)
	if err != nil {
		return h.failure("list pools", err)
	}
	if len(pools) == 0 {
		if m == modeEditPick {
			return plain("📭 No pools to edit.")
		}
		return plain("📭 No pools to remove.")
	}

	var b strings.Builder
	if m == modeEditPick {
		b.WriteString("✏️ *Pick a pool to edit min/max:*\n\n")
	} else {
		b.WriteString("🗑️ *Pick a pool to remove:*\n\n")
	}
	for i, p := range pools {
		if m == modeEditPick {
			fmt.Fprintf(&b, "%d. %s (Range: %s - %s)\n", i+1, p.Pool.Name, p.Pool.Min, p.Pool.Max)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p.Pool.Name)
		}
	}
	b.WriteString("\nSend the pool number (e.g. 1)")

	h.setSession(chatID, session{mode: m})
	return markdown(b.String())
}

func (h *Handler) addPool(ctx context.Context, chatID int64, text string) []Reply {
	lines := splitLines(text)
	if len(lines) < 4 || len(lines) > 5 {
		return plain("❌ Missing information! 4-5 lines are required. Try again or send /cancel.")
	}

	lower, upper, err := registry.ParseBounds(lines[2], lines[3])
	if err != nil {
		return plain(invalidBoundsText(err))
	}
	invert := len(lines) == 5 && strings.EqualFold(lines[4], "true")

	pool, err := h.ctrl.AddPool(ctx, registry.NewPoolConfig(lines[0], lines[1], lower, upper, invert))
	switch {
	case errors.Is(err, registry.ErrDuplicatePool):
		return plain("❌ This pool is already tracked. Send different details or /cancel.")
	case err != nil:
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			return plain(fmt.Sprintf("❌ Invalid %s: %s. Try again or send /cancel.", verr.Field, verr.Reason))
		}
		return h.failure("add pool", err)
	}

	h.clearSession(chatID)
	return markdown(fmt.Sprintf("✅ *Pool added:*\n\n*%s*\nRange: %s - %s\nInvert: %t\n\n_Default decimals: %d/%d_",
		pool.Name, pool.Min, pool.Max, pool.Invert, pool.Decimals0, pool.Decimals1))
}

func (h *Handler) pickEdit(ctx context.Context, chatID int64, text string) []Reply {
	pools, err := h.ctrl.ListPools(ctx)
	if err != nil {
		return h.failure("list pools", err)
	}
	index, ok := parseIndex(text, len(pools))
	if !ok {
		return plain(invalidNumberText)
	}

	picked := pools[index].Pool
	name := picked.Name
	h.setSession(chatID, session{mode: modeEditValues, index: index, poolID: picked.ID})
	return markdown(fmt.Sprintf("✏️ Editing *%s*\n\nSend the new Min and Max (2 lines):\n```\nMin\nMax\n```\n\n*Example:*\n```\n0.997\n1.003\n```", name))
}

func (h *Handler) editValues(ctx context.Context, chatID int64, sess session, text string) []Reply {
	lines := splitLines(text)
	if len(lines) != 2 {
		return plain("❌ Exactly 2 lines (Min and Max) are required. Try again or send /cancel.")
	}
	lower, upper, err := registry.ParseBounds(lines[0], lines[1])
	if err != nil {
		return plain(invalidBoundsText(err))
	}

	pool, err := h.ctrl.EditPool(ctx, sess.index, sess.poolID, lower, upper)
	if errors.Is(err, registry.ErrIndexOutOfRange) || errors.Is(err, registry.ErrPoolMoved) {
		h.clearSession(chatID)
		return plain("❌ The pool list changed since you picked a pool. Send /edit to start over.")
	}
	if err != nil {
		return h.failure("edit pool", err)
	}

	h.clearSession(chatID)
	return markdown(fmt.Sprintf("✅ *Updated %s*\n\nNew range: %s - %s\n\n_Alert state has been reset_", pool.Name, pool.Min, pool.Max))
}

func (h *Handler) removePool(ctx context.Context, chatID int64, text string) []Reply {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return plain(invalidNumberText)
	}
	removed, err := h.ctrl.RemovePool(ctx, n-1)
	if errors.Is(err, registry.ErrIndexOutOfRange) {
		return plain(invalidNumberText)
	}
	if err != nil {
		return h.failure("remove pool", err)
	}

	h.clearSession(chatID)
	return markdown(fmt.Sprintf("✅ Removed pool: *%s*", removed.Name))
}

func (h *Handler) showToggles(ctx context.Context, chatID int64) []Reply {
	features, err := h.ctrl.Features(ctx)
	if err != nil {
		return h.failure("read features", err)
	}

	var b strings.Builder
	b.WriteString("⚙️ *Features:*\n\n")
	for i, name := range monitor.FeatureNames {
		enabled, _ := features.Get(name)
		state := "OFF"
		if enabled {
			state = "ON"
		}
		fmt.Fprintf(&b, "%d. %s: *%s*\n", i+1, name, state)
	}
	b.WriteString("\nSend a feature number or name to toggle it")

	h.setSession(chatID, session{mode: modeToggle})
	return markdown(b.String())
}

func (h *Handler) toggle(ctx context.Context, chatID int64, text string) []Reply {
	name, enabled, err := h.ctrl.ToggleFeature(ctx, text)
	if errors.Is(err, monitor.ErrUnknownFeature) {
		return plain("❌ Unknown feature. Send a number from the list or /cancel.")
	}
	if err != nil {
		return h.failure("toggle feature", err)
	}

	h.clearSession(chatID)
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return markdown(fmt.Sprintf("✅ *%s* %s", name, state))
}

func (h *Handler) failure(op string, err error) []Reply {
	h.logger.Error().Err(err).Str("op", op).Msg("command failed")
	if errors.Is(err, service.ErrStopped) || errors.Is(err, context.Canceled) {
		return plain("⏳ The monitor is shutting down. Try again later.")
	}
	return plain("❌ Something went wrong, please try again.")
}

func (h *Handler) session(chatID int64) (session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[chatID]
	return s, ok
}

func (h *Handler) setSession(chatID int64, s session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[chatID] = s
}

func (h *Handler) clearSession(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, chatID)
}

func parseIndex(text string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

func splitLines(text string) []string {
	raw := strings.Split(strings.TrimSpace(text), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimSpace(l))
	}
	return lines
}

func shortID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:20] + "..."
}

// humanDuration renders d the way humanize renders relative times, without
// the "ago" suffix.
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	ref := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(ref, ref.Add(d), "", ""))
}

func invalidBoundsText(err error) string {
	var verr *registry.ValidationError
	if errors.As(err, &verr) && verr.Field == "range" {
		return "❌ Min must not be greater than Max. Try again or send /cancel."
	}
	return "❌ Invalid data! Check min and max."
}

func plain(text string) []Reply {
	return []Reply{{Text: text}}
}

func markdown(text string) []Reply {
	return []Reply{{Text: text, Markdown: true}}
}

const (
	noPoolsText       = "📭 No pools are being tracked."
	invalidNumberText = "❌ Invalid number. Please try again."
)

const helpText = "🤖 *Pool Range Watch*\n\n" +
	"📋 *Commands:*\n" +
	"/list - Tracked pools\n" +
	"/add - Add a pool\n" +
	"/edit - Change a pool's min/max\n" +
	"/remove - Remove a pool\n" +
	"/status - Current prices\n" +
	"/toggle - Turn reminders and recovery alerts on or off\n" +
	"/cancel - Abort the current operation\n" +
	"/help - This guide\n\n" +
	"📝 *Adding a pool:*\n" +
	"Send `/add`, then the details one per line:\n" +
	"```\nPoolID\nPoolName\nMin\nMax\nInvert (true/false, optional)\n```"

const addInstructions = "📝 *Add a pool*\n\n" +
	"Send the details, one per line:\n\n" +
	"```\nPoolID\nPoolName\nMin\nMax\nInvert (true/false, optional)\n```\n\n" +
	"*Example:*\n" +
	"```\n0xb556fc22cef37bee2ab045bfbbd370f4080db5f6f2dd35a8eff3699ddf48e454\nUSDT/USDC\n0.998\n1.002\nfalse\n```\n\n" +
	"Send /cancel to abort."
