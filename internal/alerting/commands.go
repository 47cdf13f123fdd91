package alerting

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
	"floorwatch/internal/storage"
)

const (
	usageSet         = "Use the format: /set Rarity, Percent"
	replyWrongChat   = "Command is only available in the specified channel"
	replyBadRarity   = "Rarity must be one of: Legendary, Epic, Rare, Uncommon, Common"
	replyBadPercent  = "Percent must be a number greater than 0 and at most 100"
	replySetFailed   = "Failed to update threshold"
	defaultLongPoll  = 25 * time.Second
	commandErrorWait = 5 * time.Second
)

var rarityMarkers = map[domain.Rarity]string{
	domain.Legendary: "🟨",
	domain.Epic:      "🟪",
	domain.Rare:      "🟦",
	domain.Uncommon:  "🟩",
	domain.Common:    "⬜️",
}

// ThresholdEditor reads and updates per-rarity alert thresholds.
type ThresholdEditor interface {
	Set(ctx context.Context, r domain.Rarity, pct decimal.Decimal) error
	All() []storage.ThresholdRecord
}

// CommandListener long-polls the bot for /set and /current commands from the alert chat.
type CommandListener struct {
	api        *telegramAPI
	chatID     string
	thresholds ThresholdEditor
	pollWait   time.Duration
	logger     zerolog.Logger
	offset     int64
}

// NewCommandListener constructs a listener. Commands from any chat other than chatID are refused.
func NewCommandListener(botToken, chatID, baseURL string, thresholds ThresholdEditor, logger zerolog.Logger) *CommandListener {
	return &CommandListener{
		api:        newTelegramAPI(botToken, baseURL, defaultLongPoll+10*time.Second),
		chatID:     chatID,
		thresholds: thresholds,
		pollWait:   defaultLongPoll,
		logger:     logger.With().Str("component", "telegram_commands").Logger(),
	}
}

// Run polls for updates until ctx is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("command listener started")
	for {
		if err := l.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(commandErrorWait):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// PollOnce fetches one batch of updates and answers the commands in it.
func (l *CommandListener) PollOnce(ctx context.Context) error {
	updates, err := l.api.getUpdates(ctx, l.offset, l.pollWait)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if u.UpdateID >= l.offset {
			l.offset = u.UpdateID + 1
		}
		msg := u.Message
		if msg == nil {
			msg = u.ChannelPost
		}
		if msg == nil || msg.Text == "" {
			continue
		}
		l.handle(ctx, msg)
	}
	return nil
}

func (l *CommandListener) handle(ctx context.Context, msg *message) {
	command, args := splitCommand(msg.Text)
	if command != "/set" && command != "/current" {
		return
	}
	replyTo := strconv.FormatInt(msg.Chat.ID, 10)

	var reply string
	if !l.allowed(msg) {
		reply = replyWrongChat
	} else {
		reply = l.Execute(ctx, command, args)
	}

	if err := l.api.sendMessage(ctx, replyTo, reply, false); err != nil {
		l.logger.Warn().Err(err).Str("command", command).Msg("command reply failed")
	}
}

// Execute runs a command and returns the reply text.
func (l *CommandListener) Execute(ctx context.Context, command, args string) string {
	switch command {
	case "/set":
		rarity, pct, reply := parseSetArgs(args)
		if reply != "" {
			return reply
		}
		if err := l.thresholds.Set(ctx, rarity, pct); err != nil {
			l.logger.Error().Err(err).Str("rarity", rarity.String()).Msg("threshold update failed")
			if errors.Is(err, domain.ErrUnknownRarity) {
				return replyBadRarity
			}
			return replySetFailed
		}
		l.logger.Info().Str("rarity", rarity.String()).Str("discount_pct", pct.String()).Msg("threshold updated")
		return "Threshold updated for " + rarity.String() + ": " + pct.StringFixed(2) + "%"
	case "/current":
		return RenderThresholds(l.thresholds.All())
	default:
		return ""
	}
}

func (l *CommandListener) allowed(msg *message) bool {
	if strings.HasPrefix(l.chatID, "@") {
		return msg.Chat.Username != "" && strings.EqualFold("@"+msg.Chat.Username, l.chatID)
	}
	return strconv.FormatInt(msg.Chat.ID, 10) == l.chatID
}

// RenderThresholds lists the effective threshold of every rarity.
func RenderThresholds(records []storage.ThresholdRecord) string {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rarityMarkers[rec.Rarity]+" "+rec.Rarity.String()+" -> "+rec.DiscountPct.StringFixed(2)+"%")
	}
	return strings.Join(lines, "\n")
}

// splitCommand separates "/set@bot Epic, 30" into "/set" and "Epic, 30".
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// parseSetArgs accepts "Rarity, Percent" or "Rarity Percent". A non-empty reply reports a usage error.
func parseSetArgs(args string) (domain.Rarity, decimal.Decimal, string) {
	if args == "" {
		return "", decimal.Decimal{}, usageSet
	}

	var parts []string
	for _, p := range strings.Split(args, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 2 {
		parts = strings.Fields(args)
	}
	if len(parts) != 2 {
		return "", decimal.Decimal{}, usageSet
	}

	rarity, err := domain.ParseRarity(parts[0])
	if err != nil {
		return "", decimal.Decimal{}, replyBadRarity
	}
	pct, err := decimal.NewFromString(strings.TrimSuffix(parts[1], "%"))
	if err != nil || !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return "", decimal.Decimal{}, replyBadPercent
	}
	return rarity, pct, ""
}
