// Package pricing holds the pure pricing computations: option resolution and
// the discount cascade. Nothing here touches storage.
package pricing

import (
	"saldopos/backend/internal/domain"
)

// OptionResult is the outcome of resolving a selection against a product's
// option schema. Selections carries the normalized form for persistence,
// Snapshot the labeled form for the transaction's audit record.
type OptionResult struct {
	Selections      []domain.OptionSelection
	Snapshot        []domain.SelectedOption
	TotalDeltaCents int64
	MissingRequired []string
}

// EvaluateOptions resolves the submitted selections against product's option
// groups. Unknown groups and choice ids are dropped, duplicates are deduped,
// single-choice groups keep only the first valid id, and every required group
// left without a valid choice is reported by name. Callers must reject the
// operation when MissingRequired is non-empty.
func EvaluateOptions(product domain.Product, selected []domain.OptionSelection) OptionResult {
	chosenByGroup := make(map[string][]string, len(selected))
	for _, sel := range selected {
		chosenByGroup[sel.GroupID] = append(chosenByGroup[sel.GroupID], sel.ChoiceIDs...)
	}

	result := OptionResult{
		Selections: make([]domain.OptionSelection, 0, len(product.Options)),
		Snapshot:   make([]domain.SelectedOption, 0, len(product.Options)),
	}

	for _, group := range product.Options {
		choiceByID := make(map[string]domain.OptionChoice, len(group.Choices))
		for _, choice := range group.Choices {
			choiceByID[choice.ID] = choice
		}

		kept := make([]string, 0, len(chosenByGroup[group.ID]))
		seen := make(map[string]bool, len(chosenByGroup[group.ID]))
		for _, choiceID := range chosenByGroup[group.ID] {
			if _, exists := choiceByID[choiceID]; !exists || seen[choiceID] {
				continue
			}
			seen[choiceID] = true
			kept = append(kept, choiceID)
			if !group.Multiple {
				break
			}
		}

		if len(kept) == 0 {
			if group.Required {
				result.MissingRequired = append(result.MissingRequired, group.Name)
			}
			continue
		}

		result.Selections = append(result.Selections, domain.OptionSelection{
			GroupID:   group.ID,
			ChoiceIDs: kept,
		})
		for _, choiceID := range kept {
			choice := choiceByID[choiceID]
			result.Snapshot = append(result.Snapshot, domain.SelectedOption{
				GroupID:         group.ID,
				GroupName:       group.Name,
				ChoiceID:        choice.ID,
				Label:           choice.Label,
				PriceDeltaCents: choice.PriceDeltaCents,
			})
			result.TotalDeltaCents += choice.PriceDeltaCents
		}
	}

	return result
}
