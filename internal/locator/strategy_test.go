package locator

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want Strength
	}{
		{"role", Locator{Strategy: StrategyRole, Selector: `button[name="Save"]`}, StrengthStrong},
		{"label", Locator{Strategy: StrategyLabel, Selector: "Customer Name"}, StrengthStrong},
		{"placeholder", Locator{Strategy: StrategyPlaceholder, Selector: "Search"}, StrengthStrong},
		{"text", Locator{Strategy: StrategyText, Selector: "Submit"}, StrengthStrong},
		{"testid", Locator{Strategy: StrategyTestID, Selector: "order-submit"}, StrengthModerate},
		{"attribute css", Locator{Strategy: StrategyCSS, Selector: `[data-qa="submit"]`}, StrengthModerate},
		{"attribute css with spaces", Locator{Strategy: StrategyCSS, Selector: `[aria-label="save the order"]`}, StrengthModerate},
		{"class css", Locator{Strategy: StrategyCSS, Selector: ".btn-primary"}, StrengthModerate},
		{"id css", Locator{Strategy: StrategyCSS, Selector: "#order-form"}, StrengthModerate},
		{"tag with class and attr", Locator{Strategy: StrategyCSS, Selector: `input.qty[name="quantity"]`}, StrengthModerate},
		{"descendant css", Locator{Strategy: StrategyCSS, Selector: "form div span"}, StrengthWeak},
		{"child css", Locator{Strategy: StrategyCSS, Selector: "div > button"}, StrengthWeak},
		{"positional css", Locator{Strategy: StrategyCSS, Selector: "li:nth-child(3)"}, StrengthWeak},
		{"bare tag", Locator{Strategy: StrategyCSS, Selector: "button"}, StrengthWeak},
		{"empty css", Locator{Strategy: StrategyCSS, Selector: ""}, StrengthWeak},
		{"xpath", Locator{Strategy: StrategyXPath, Selector: "//div[2]/button"}, StrengthWeak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.loc); got != tt.want {
				t.Errorf("Classify(%v %q) = %v, want %v", tt.loc.Strategy, tt.loc.Selector, got, tt.want)
			}
		})
	}
}

func TestStrengthString(t *testing.T) {
	if StrengthStrong.String() != "strong" || StrengthModerate.String() != "moderate" || StrengthWeak.String() != "weak" {
		t.Error("strength labels wrong")
	}
}
