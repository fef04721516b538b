package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dkrylov/spreadwatch/internal/daily"
	"github.com/dkrylov/spreadwatch/internal/logger"
)

// renderSpread builds the live notification text. A positive spread
// means venue A is more expensive (short A, long B); a negative one is
// flagged with the reverse icon.
func (e *Engine) renderSpread(ctx context.Context, r refresh) string {
	abs := math.Abs(r.spread)

	dirA, dirB, icon := "SHORT", "LONG", ""
	if r.spread < 0 {
		dirA, dirB = "LONG", "SHORT"
		icon = " 🔄"
	}

	priceA := strconv.FormatFloat(r.quote.A, 'f', -1, 64)
	priceB := strconv.FormatFloat(r.quote.B, 'f', -1, 64)
	if e.market != nil {
		priceA = e.market.FormatPrice(ctx, r.symbol, r.quote.A)
		priceB = e.market.FormatPrice(ctx, r.symbol, r.quote.B)
	}

	var b strings.Builder
	if r.isNew {
		b.WriteString("🆕 НОВЫЙ ТИКЕР\n")
	}
	fmt.Fprintf(&b, "<b>СПРЕД %s %.2f%%%s</b>\n\n", r.symbol, abs, icon)
	fmt.Fprintf(&b, "MEXC: %s (%s)\n", priceA, dirA)
	fmt.Fprintf(&b, "GATE: %s (%s)\n\n", priceB, dirB)
	fmt.Fprintf(&b, "Время существования: %s\n", daily.FormatDuration(int(e.now().Sub(r.start).Seconds())))
	fmt.Fprintf(&b, "Максимальный спред: %.2f%%\n", r.maxSpread)

	if e.market != nil {
		if vol, err := e.market.BidsVolumeUSDT(ctx, r.symbol); err == nil && vol > 0 {
			fmt.Fprintf(&b, "Объём 9 бидов: %s USDT\n", daily.FormatThousands(vol))
		} else if err != nil {
			logger.Debug("bid volume lookup failed for %s: %v", r.symbol, err)
		}
		if limit, err := e.market.MaxPositionUSDT(ctx, r.symbol); err == nil && limit > 0 {
			fmt.Fprintf(&b, "Лимит позиции: %s USDT", daily.FormatThousands(limit))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
