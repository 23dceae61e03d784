package pricing

import (
	"testing"

	"saldopos/backend/internal/domain"
)

func sizedProduct() domain.Product {
	return domain.Product{
		ID:         "prd-latte",
		Name:       "Latte",
		PriceCents: 450,
		Active:     true,
		Options: []domain.OptionGroup{
			{
				ID:       "grp-size",
				Name:     "Size",
				Required: true,
				Choices: []domain.OptionChoice{
					{ID: "ch-s", Label: "Small", PriceDeltaCents: 0},
					{ID: "ch-l", Label: "Large", PriceDeltaCents: 75},
				},
			},
			{
				ID:       "grp-extras",
				Name:     "Extras",
				Multiple: true,
				Choices: []domain.OptionChoice{
					{ID: "ch-shot", Label: "Extra Shot", PriceDeltaCents: 50},
					{ID: "ch-syrup", Label: "Syrup", PriceDeltaCents: 30},
				},
			},
		},
	}
}

func TestEvaluateOptionsReportsMissingRequiredGroup(t *testing.T) {
	result := EvaluateOptions(sizedProduct(), nil)
	if len(result.MissingRequired) != 1 || result.MissingRequired[0] != "Size" {
		t.Fatalf("expected missing group [Size], got %v", result.MissingRequired)
	}
	if result.TotalDeltaCents != 0 {
		t.Fatalf("expected zero delta, got %d", result.TotalDeltaCents)
	}
}

func TestEvaluateOptionsSumsDeltasAndSnapshotsLabels(t *testing.T) {
	result := EvaluateOptions(sizedProduct(), []domain.OptionSelection{
		{GroupID: "grp-size", ChoiceIDs: []string{"ch-l"}},
		{GroupID: "grp-extras", ChoiceIDs: []string{"ch-shot", "ch-syrup"}},
	})
	if len(result.MissingRequired) != 0 {
		t.Fatalf("unexpected missing groups: %v", result.MissingRequired)
	}
	if result.TotalDeltaCents != 75+50+30 {
		t.Fatalf("expected delta 155, got %d", result.TotalDeltaCents)
	}
	if len(result.Snapshot) != 3 {
		t.Fatalf("expected 3 snapshot entries, got %d", len(result.Snapshot))
	}
	if result.Snapshot[0].GroupName != "Size" || result.Snapshot[0].Label != "Large" {
		t.Fatalf("unexpected first snapshot entry: %+v", result.Snapshot[0])
	}
}

func TestEvaluateOptionsSingleChoiceGroupKeepsFirstValidID(t *testing.T) {
	result := EvaluateOptions(sizedProduct(), []domain.OptionSelection{
		{GroupID: "grp-size", ChoiceIDs: []string{"bogus", "ch-s", "ch-l"}},
	})
	if len(result.Selections) != 1 {
		t.Fatalf("expected one selection, got %d", len(result.Selections))
	}
	sel := result.Selections[0]
	if len(sel.ChoiceIDs) != 1 || sel.ChoiceIDs[0] != "ch-s" {
		t.Fatalf("expected only ch-s kept, got %v", sel.ChoiceIDs)
	}
}

func TestEvaluateOptionsDedupesAndDropsUnknownChoices(t *testing.T) {
	result := EvaluateOptions(sizedProduct(), []domain.OptionSelection{
		{GroupID: "grp-size", ChoiceIDs: []string{"ch-s"}},
		{GroupID: "grp-extras", ChoiceIDs: []string{"ch-shot", "ch-shot", "nope"}},
		{GroupID: "grp-unknown", ChoiceIDs: []string{"whatever"}},
	})
	if result.TotalDeltaCents != 50 {
		t.Fatalf("expected delta 50, got %d", result.TotalDeltaCents)
	}
	if len(result.Selections) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(result.Selections))
	}
}
