package locator

import "testing"

func TestExpression(t *testing.T) {
	tests := []struct {
		name string
		loc  Locator
		want string
	}{
		{
			name: "role with name",
			loc:  Locator{Strategy: StrategyRole, Selector: `button[name="Save"]`},
			want: "page.getByRole('button', { name: 'Save' })",
		},
		{
			name: "bare role",
			loc:  Locator{Strategy: StrategyRole, Selector: "navigation"},
			want: "page.getByRole('navigation')",
		},
		{
			name: "label",
			loc:  Locator{Strategy: StrategyLabel, Selector: "Customer Name"},
			want: "page.getByLabel('Customer Name')",
		},
		{
			name: "placeholder",
			loc:  Locator{Strategy: StrategyPlaceholder, Selector: "Search orders"},
			want: "page.getByPlaceholder('Search orders')",
		},
		{
			name: "text",
			loc:  Locator{Strategy: StrategyText, Selector: "Submit"},
			want: "page.getByText('Submit')",
		},
		{
			name: "testid",
			loc:  Locator{Strategy: StrategyTestID, Selector: "order-submit"},
			want: "page.getByTestId('order-submit')",
		},
		{
			name: "css",
			loc:  Locator{Strategy: StrategyCSS, Selector: ".btn-primary"},
			want: "page.locator('.btn-primary')",
		},
		{
			name: "xpath",
			loc:  Locator{Strategy: StrategyXPath, Selector: "//div[2]/button"},
			want: "page.locator('xpath=//div[2]/button')",
		},
		{
			name: "quote escaping",
			loc:  Locator{Strategy: StrategyLabel, Selector: "It's here"},
			want: `page.getByLabel('It\'s here')`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.Expression(); got != tt.want {
				t.Errorf("Expression() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoleSelectorRoundTrip(t *testing.T) {
	sel := RoleSelector("button", "Save Order")
	if sel != `button[name="Save Order"]` {
		t.Fatalf("RoleSelector = %q", sel)
	}
	role, name := SplitRoleSelector(sel)
	if role != "button" || name != "Save Order" {
		t.Errorf("SplitRoleSelector = (%q, %q)", role, name)
	}

	role, name = SplitRoleSelector("link")
	if role != "link" || name != "" {
		t.Errorf("SplitRoleSelector bare = (%q, %q)", role, name)
	}
}
