package alerts

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/coinwatch/internal/clients/telegram"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/aristath/coinwatch/internal/events"
)

// FormatLongTrigger renders a long-list trigger as a Telegram Markdown
// message.
func FormatLongTrigger(data *events.LongTriggerData) string {
	var sb strings.Builder
	symbol := telegram.EscapeMarkdown(data.Symbol)

	switch data.TriggerType {
	case domain.AlertRetrace:
		sb.WriteString(fmt.Sprintf("🔻 *%s retraced from its 72h high*\n\n", symbol))
		if data.RetraceFromHigh != nil {
			sb.WriteString(fmt.Sprintf("*Drop:* -%.1f%%\n", *data.RetraceFromHigh))
		}
	case domain.AlertStall:
		sb.WriteString(fmt.Sprintf("😴 *%s momentum stalled*\n\n", symbol))
	case domain.AlertBreakout:
		sb.WriteString(fmt.Sprintf("🚀 *%s breakout over its 12h high*\n\n", symbol))
	case domain.AlertMcap:
		sb.WriteString(fmt.Sprintf("🎯 *%s crossed a market-cap level*\n\n", symbol))
		if data.TargetLevel != nil {
			sb.WriteString(fmt.Sprintf("*Level:* %s\n", formatUSD(*data.TargetLevel)))
		}
	default:
		sb.WriteString(fmt.Sprintf("*%s %s*\n\n", symbol, data.TriggerType))
	}

	sb.WriteString(fmt.Sprintf("*Price:* %s\n", formatPrice(data.Price)))
	sb.WriteString(fmt.Sprintf("*24h volume:* %s\n", formatUSD(data.Volume24h)))
	if data.MarketCap != nil {
		sb.WriteString(fmt.Sprintf("*Market cap:* %s\n", formatUSD(*data.MarketCap)))
	}
	return sb.String()
}

// FormatHotAlert renders a hot-entry alert as a Telegram Markdown message.
func FormatHotAlert(data *events.HotAlertData) string {
	var sb strings.Builder
	symbol := telegram.EscapeMarkdown(data.Symbol)

	switch data.AlertType {
	case domain.AlertHotPct:
		arrow := "📈"
		if data.TargetValue != nil && *data.TargetValue < 0 {
			arrow = "📉"
		}
		if data.TargetValue != nil {
			sb.WriteString(fmt.Sprintf("%s *%s hit its %+.0f%% target*\n\n", arrow, symbol, *data.TargetValue))
		} else {
			sb.WriteString(fmt.Sprintf("%s *%s hit a price target*\n\n", arrow, symbol))
		}
	case domain.AlertHotMcap:
		sb.WriteString(fmt.Sprintf("🎯 *%s reached a market-cap target*\n\n", symbol))
		if data.McapLevel != nil {
			sb.WriteString(fmt.Sprintf("*Level:* %s\n", formatUSD(*data.McapLevel)))
		}
	case domain.AlertFailsafe:
		sb.WriteString(fmt.Sprintf("🚨 *%s fell below 40%% of its anchor*\n\n", symbol))
	case domain.AlertEntryAdded:
		sb.WriteString(fmt.Sprintf("👀 *Now tracking %s*\n\n", symbol))
		sb.WriteString(fmt.Sprintf("*Anchor price:* %s\n", formatPrice(data.Price)))
		// Raw URLs, not escaped: escaping would break the link markup.
		if data.Website != "" {
			sb.WriteString(fmt.Sprintf("[Website](%s)\n", data.Website))
		}
		if data.Social != "" {
			sb.WriteString(fmt.Sprintf("[Community](%s)\n", data.Social))
		}
		return sb.String()
	default:
		sb.WriteString(fmt.Sprintf("*%s %s*\n\n", symbol, data.AlertType))
	}

	sb.WriteString(fmt.Sprintf("*Price:* %s\n", formatPrice(data.Price)))
	if data.DeltaFromAnchor != nil {
		sb.WriteString(fmt.Sprintf("*From anchor:* %+.1f%%\n", *data.DeltaFromAnchor))
	}
	return sb.String()
}

// FormatSystemAlert renders an operational notice for the admin chat.
func FormatSystemAlert(data *events.SystemAlertData) string {
	var sb strings.Builder
	sb.WriteString("⚙️ *System*\n\n")
	sb.WriteString(telegram.EscapeMarkdown(data.Message))
	if data.Source != "" {
		sb.WriteString(fmt.Sprintf("\n\n_%s_", telegram.EscapeMarkdown(data.Source)))
	}
	return sb.String()
}

// formatPrice renders a USD price with precision fitting its magnitude;
// meme-coin prices need the long tail.
func formatPrice(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1:
		return fmt.Sprintf("$%.2f", v)
	case abs >= 0.01:
		return fmt.Sprintf("$%.4f", v)
	default:
		return fmt.Sprintf("$%.8f", v)
	}
}

// formatUSD renders a dollar amount compactly.
func formatUSD(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
