package telegram

import (
	"fmt"
	"strings"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

// FormatPriceDrop renders the price-drop notification for one decided
// event.
func FormatPriceDrop(n models.PendingNotification) string {
	title := n.Item.Title
	if title == "" {
		title = "Prodotto"
	}
	previous := n.Event.PreviousPrice
	drop := previous - n.Event.Price
	var b strings.Builder

	b.WriteString("🎉 *Prezzo sceso\\!*\n\n")
	fmt.Fprintf(&b, "📦 %s\n", escapeMarkdownV2(title))
	fmt.Fprintf(&b, "🔖 ASIN: `%s`\n\n", escapeMarkdownV2(n.Item.ASIN))
	fmt.Fprintf(&b, "💰 *Prezzo precedente:* %s %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", previous)), escapeMarkdownV2(n.Event.Currency))
	fmt.Fprintf(&b, "💰 *Prezzo attuale:* %s %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", n.Event.Price)), escapeMarkdownV2(n.Event.Currency))
	if previous > 0 && drop > 0 {
		fmt.Fprintf(&b, "📉 *Risparmio:* %s %s \\(%s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.2f", drop)),
			escapeMarkdownV2(n.Event.Currency),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", drop/previous*100)))
	}
	if n.Item.URL != "" {
		fmt.Fprintf(&b, "\n🔗 [Acquista ora](%s)", n.Item.URL)
	}
	return b.String()
}

// FormatDailySummary renders the once-per-day digest of an owner's active
// items at their last known prices.
func FormatDailySummary(items []*models.WatchlistItem) string {
	if len(items) == 0 {
		return "📋 *Riepilogo Watchlist*\n\nLa tua watchlist è vuota\\."
	}

	var b strings.Builder
	b.WriteString("📋 *Riepilogo Watchlist \\- Tutti i tuoi prodotti:*\n\n")
	for i, item := range items {
		title := item.Title
		if title == "" {
			title = "Prodotto " + item.ASIN
		}
		fmt.Fprintf(&b, "%d\\. *%s*\n", i+1, escapeMarkdownV2(title))
		fmt.Fprintf(&b, "   🔖 ASIN: `%s`\n", escapeMarkdownV2(item.ASIN))
		if item.InitialPrice > 0 {
			fmt.Fprintf(&b, "   💰 Prezzo iniziale: %s %s\n",
				escapeMarkdownV2(fmt.Sprintf("%.2f", item.InitialPrice)), escapeMarkdownV2(item.Currency))
		}
		if item.CurrentPrice > 0 {
			fmt.Fprintf(&b, "   💵 Prezzo attuale: %s %s\n",
				escapeMarkdownV2(fmt.Sprintf("%.2f", item.CurrentPrice)), escapeMarkdownV2(item.Currency))
			if item.InitialPrice > 0 && item.CurrentPrice < item.InitialPrice {
				drop := item.InitialPrice - item.CurrentPrice
				fmt.Fprintf(&b, "   📉 Sceso di %s %s \\(%s\\)\n",
					escapeMarkdownV2(fmt.Sprintf("%.2f", drop)),
					escapeMarkdownV2(item.Currency),
					escapeMarkdownV2(fmt.Sprintf("%.1f%%", drop/item.InitialPrice*100)))
			}
		}
		if item.URL != "" {
			fmt.Fprintf(&b, "   🔗 [Vedi su Amazon](%s)\n", item.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatItemUnavailable renders the informational notice for a product
// that no longer resolves.
func FormatItemUnavailable(item models.WatchlistItem) string {
	title := item.Title
	if title == "" {
		title = "Prodotto " + item.ASIN
	}
	return fmt.Sprintf("⚠️ *Prodotto non più disponibile*\n\n📦 %s\n🔖 ASIN: `%s`\n\nIl prodotto non è più raggiungibile e non verrà più controllato\\. Rimuovilo e aggiungilo di nuovo se torna disponibile\\.",
		escapeMarkdownV2(title), escapeMarkdownV2(item.ASIN))
}
