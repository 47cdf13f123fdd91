package alerting

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

// Alert is the context of one bargain notification.
type Alert struct {
	Listing     domain.Listing
	Floor       decimal.Decimal
	Limit       decimal.Decimal
	DiscountPct decimal.Decimal
	// Rate converts native prices to USD for display; invalid when unavailable.
	Rate       decimal.NullDecimal
	DetectedAt time.Time
}

// Notifier defines the alert delivery interface.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// TelegramNotifier posts alerts through the Telegram Bot API, with the listing image when available.
type TelegramNotifier struct {
	api    *telegramAPI
	chatID string
	images ImageResolver
	loc    *time.Location
	logger zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram notifier. images may be nil for text-only alerts.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, images ImageResolver, loc *time.Location, logger zerolog.Logger) *TelegramNotifier {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramNotifier{
		api:    newTelegramAPI(botToken, baseURL, timeout),
		chatID: chatID,
		images: images,
		loc:    loc,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends a photo with caption, falling back to a text message when no image can be fetched.
func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	caption := RenderCaption(alert, n.loc)

	if photo := n.resolveImage(ctx, alert.Listing); len(photo) > 0 {
		err := n.api.sendPhoto(ctx, n.chatID, photo, photoFilename(alert.Listing), caption)
		if err == nil {
			n.logSent(alert, "photo")
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		n.logger.Warn().Err(err).Str("listing_id", alert.Listing.ID).Msg("photo alert rejected, sending text")
	}

	if err := n.api.sendMessage(ctx, n.chatID, caption, true); err != nil {
		return err
	}
	n.logSent(alert, "text")
	return nil
}

func (n *TelegramNotifier) resolveImage(ctx context.Context, l domain.Listing) []byte {
	if n.images == nil || l.ImageRef() == "" {
		return nil
	}
	photo, err := n.images.Resolve(ctx, l.ImageRef())
	if err != nil {
		n.logger.Warn().Err(err).Str("listing_id", l.ID).Msg("image unavailable")
		return nil
	}
	return photo
}

func (n *TelegramNotifier) logSent(alert Alert, kind string) {
	n.logger.Info().
		Str("listing_id", alert.Listing.ID).
		Str("rarity", alert.Listing.Rarity.String()).
		Str("price", alert.Listing.Price.String()).
		Str("floor", alert.Floor.String()).
		Str("kind", kind).
		Msg("alert sent (Telegram)")
}

// LogNotifier writes alerts to the log. It backs runs without a Telegram bot.
type LogNotifier struct {
	loc    *time.Location
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(loc *time.Location, logger zerolog.Logger) *LogNotifier {
	if loc == nil {
		loc = time.UTC
	}
	return &LogNotifier{loc: loc, logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered alert.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn().
		Str("listing_id", alert.Listing.ID).
		Str("rarity", alert.Listing.Rarity.String()).
		Str("price", alert.Listing.Price.String()).
		Str("floor", alert.Floor.String()).
		Str("limit", alert.Limit.String()).
		Str("rarible_url", alert.Listing.RaribleURL).
		Msg("bargain listing")
	return nil
}

// RenderCaption formats the HTML alert body.
func RenderCaption(alert Alert, loc *time.Location) string {
	l := alert.Listing
	at := alert.DetectedAt
	if at.IsZero() {
		at = time.Now()
	}
	if loc == nil {
		loc = time.UTC
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🔢 <b>Number:</b> %s\n", html.EscapeString(l.TokenID)))
	builder.WriteString(fmt.Sprintf("🎰 <b>Rarity:</b> %s\n", html.EscapeString(l.Rarity.String())))
	builder.WriteString(fmt.Sprintf("💰 <b>Price:</b> %s\n", html.EscapeString(formatAmount(l.Price, l.Currency, alert.Rate))))
	builder.WriteString(fmt.Sprintf("📊 <b>Floor Price:</b> %s\n", html.EscapeString(formatAmount(alert.Floor, l.Currency, alert.Rate))))
	builder.WriteString(fmt.Sprintf("🔗 <b>Rarible link:</b> %s\n", link(l.RaribleURL)))
	builder.WriteString(fmt.Sprintf("🔗 <b>OpenSea link:</b> %s\n\n", link(l.OpenSeaURL)))
	builder.WriteString(fmt.Sprintf("🕒 <b>Time:</b> %s", at.In(loc).Format("15:04:05")))
	return builder.String()
}

// formatAmount renders a native amount in USD with two decimals, or natively when no rate is known.
func formatAmount(amount decimal.Decimal, currency string, rate decimal.NullDecimal) string {
	if rate.Valid && rate.Decimal.IsPositive() {
		return amount.Mul(rate.Decimal).StringFixed(2) + " USD"
	}
	if currency == "" {
		return amount.String()
	}
	return amount.String() + " " + currency
}

func link(u string) string {
	if u == "" {
		return "-"
	}
	return fmt.Sprintf("<a href=\"%s\">View NFT</a>", html.EscapeString(u))
}

func photoFilename(l domain.Listing) string {
	name := l.Rarity.String() + "_" + l.TokenID
	return strings.Trim(name, "_") + ".jpg"
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
