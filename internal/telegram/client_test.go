package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"plain text", "hello world", "hello world"},
		{"underscore", "hello_world", "hello\\_world"},
		{"asterisk", "hello*world", "hello\\*world"},
		{"price with dot", "29.99", "29\\.99"},
		{"percentage", "12.5%", "12\\.5%"},
		{"brackets and parens", "[link](url)", "\\[link\\]\\(url\\)"},
		{"product title", "Echo Dot (5ª gen.) - Alexa", "Echo Dot \\(5ª gen\\.\\) \\- Alexa"},
		{"multiple specials", "a_b*c[d]e(f)g~h`i>j#k+l-m=n|o{p}q.r!s", "a\\_b\\*c\\[d\\]e\\(f\\)g\\~h\\`i\\>j\\#k\\+l\\-m\\=n\\|o\\{p\\}q\\.r\\!s"},
		{"unicode preserved", "caffè 10.00€", "caffè 10\\.00€"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeMarkdownV2(tt.input); got != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func samplePending() models.PendingNotification {
	return models.PendingNotification{
		Event: models.NotificationEvent{
			ID:            "e1",
			ItemID:        1,
			OwnerID:       111,
			Price:         79.99,
			PreviousPrice: 99.99,
			Currency:      "EUR",
			DecidedAt:     time.Now(),
		},
		Item: models.WatchlistItem{
			ID:       1,
			OwnerID:  111,
			ASIN:     "B08N5WRWNW",
			Title:    "Echo Dot (4ª generazione)",
			URL:      "https://www.amazon.it/dp/B08N5WRWNW?tag=mytag-21",
			Currency: "EUR",
		},
	}
}

func TestFormatPriceDrop(t *testing.T) {
	text := FormatPriceDrop(samplePending())

	for _, want := range []string{
		"🎉 *Prezzo sceso\\!*",
		"Echo Dot \\(4ª generazione\\)",
		"`B08N5WRWNW`",
		"*Prezzo precedente:* 99\\.99 EUR",
		"*Prezzo attuale:* 79\\.99 EUR",
		"*Risparmio:* 20\\.00 EUR \\(20\\.0%\\)",
		"[Acquista ora](https://www.amazon.it/dp/B08N5WRWNW?tag=mytag-21)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("price drop message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatPriceDrop_NoTitleNoURL(t *testing.T) {
	n := samplePending()
	n.Item.Title = ""
	n.Item.URL = ""
	text := FormatPriceDrop(n)

	if !strings.Contains(text, "📦 Prodotto\n") {
		t.Errorf("missing placeholder title:\n%s", text)
	}
	if strings.Contains(text, "Acquista ora") {
		t.Errorf("link rendered without a URL:\n%s", text)
	}
}

func TestFormatPriceDrop_NoSavingsLineOnZeroPrevious(t *testing.T) {
	n := samplePending()
	n.Event.PreviousPrice = 0
	text := FormatPriceDrop(n)

	if strings.Contains(text, "Risparmio") {
		t.Errorf("savings line rendered without a previous price:\n%s", text)
	}
}

func TestFormatDailySummary(t *testing.T) {
	target := 50.0
	items := []*models.WatchlistItem{
		{
			ASIN:         "B08N5WRWNW",
			Title:        "Echo Dot",
			URL:          "https://www.amazon.it/dp/B08N5WRWNW",
			InitialPrice: 59.99,
			CurrentPrice: 44.99,
			TargetPrice:  &target,
			Currency:     "EUR",
		},
		{
			ASIN:         "B0C1234567",
			InitialPrice: 100,
			CurrentPrice: 100,
			Currency:     "EUR",
		},
	}
	text := FormatDailySummary(items)

	for _, want := range []string{
		"📋 *Riepilogo Watchlist",
		"1\\. *Echo Dot*",
		"`B08N5WRWNW`",
		"Prezzo iniziale: 59\\.99 EUR",
		"Prezzo attuale: 44\\.99 EUR",
		"Sceso di 15\\.00 EUR \\(25\\.0%\\)",
		"[Vedi su Amazon](https://www.amazon.it/dp/B08N5WRWNW)",
		"2\\. *Prodotto B0C1234567*",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
	// Item at its initial price has no drop line of its own.
	second := text[strings.Index(text, "2\\."):]
	if strings.Contains(second, "Sceso di") {
		t.Errorf("unchanged item rendered a drop line:\n%s", second)
	}
}

func TestFormatDailySummary_Empty(t *testing.T) {
	text := FormatDailySummary(nil)
	if !strings.Contains(text, "La tua watchlist è vuota") {
		t.Errorf("empty summary = %q", text)
	}
}

func TestFormatItemUnavailable(t *testing.T) {
	text := FormatItemUnavailable(models.WatchlistItem{ASIN: "B08N5WRWNW", Title: "Echo Dot"})
	for _, want := range []string{
		"⚠️ *Prodotto non più disponibile*",
		"📦 Echo Dot",
		"`B08N5WRWNW`",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("unavailable notice missing %q:\n%s", want, text)
		}
	}

	text = FormatItemUnavailable(models.WatchlistItem{ASIN: "B08N5WRWNW"})
	if !strings.Contains(text, "Prodotto B08N5WRWNW") {
		t.Errorf("missing ASIN placeholder title:\n%s", text)
	}
}
