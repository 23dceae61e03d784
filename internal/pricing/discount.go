package pricing

import (
	"fmt"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/money"
)

// DiscountSource is one stage of the cascade: a percent cut followed by a
// flat cut, both applied to the running total.
type DiscountSource struct {
	Label     string
	Percent   float64
	FlatCents int64
}

type DiscountResult struct {
	Lines           []domain.DiscountLine
	FinalTotalCents int64
}

// SourcesFor assembles the cascade in its fixed order: global, product,
// customer, customer type. Type defaults fill in per field only where the
// customer has no override of their own.
func SourcesFor(settings domain.AppSettings, product domain.Product, customer domain.Customer, ctype *domain.CustomerType) []DiscountSource {
	sources := []DiscountSource{
		{Label: "global", Percent: settings.GlobalDiscountPercent, FlatCents: settings.GlobalDiscountFlatCents},
		{Label: "product", Percent: product.DiscountPercent, FlatCents: product.DiscountFlatCents},
		{Label: "customer", Percent: customer.DiscountPercent, FlatCents: customer.DiscountFlatCents},
	}

	typeSource := DiscountSource{Label: "customer type"}
	if ctype != nil {
		if customer.DiscountPercent <= 0 {
			typeSource.Percent = ctype.DiscountPercent
		}
		if customer.DiscountFlatCents <= 0 {
			typeSource.FlatCents = ctype.DiscountFlatCents
		}
	}
	return append(sources, typeSource)
}

// ComposeDiscounts runs the cascade over subtotal. Each stage discounts the
// already-discounted running total, never the original subtotal, and each
// discount is capped at whatever remains, so the total can never go negative.
// Out-of-range percents and non-positive flats are skipped silently.
func ComposeDiscounts(subtotalCents int64, sources []DiscountSource) DiscountResult {
	current := subtotalCents
	if current < 0 {
		current = 0
	}

	result := DiscountResult{Lines: make([]domain.DiscountLine, 0, len(sources)*2)}
	for _, src := range sources {
		if src.Percent > 0 && src.Percent <= 100 {
			discount := money.PercentOf(current, src.Percent)
			if discount > 0 {
				current = clampZero(current - discount)
				result.Lines = append(result.Lines, domain.DiscountLine{
					Label:       fmt.Sprintf("%s %g%%", src.Label, src.Percent),
					AmountCents: discount,
				})
			}
		}
		if src.FlatCents > 0 {
			discount := money.Min(current, src.FlatCents)
			if discount > 0 {
				current = clampZero(current - discount)
				result.Lines = append(result.Lines, domain.DiscountLine{
					Label:       fmt.Sprintf("%s flat", src.Label),
					AmountCents: discount,
				})
			}
		}
	}

	result.FinalTotalCents = current
	return result
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
