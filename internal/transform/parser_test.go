package transform

import (
	"context"
	"strings"
	"testing"
)

func parseSource(t *testing.T, source string) *Script {
	t.Helper()
	p := NewParser()
	t.Cleanup(p.Close)
	script, err := p.Parse(context.Background(), source)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	t.Cleanup(script.Close)
	return script
}

func TestStatementClassification(t *testing.T) {
	source := `import { test, expect } from '@playwright/test';

// entry point
await page.goto('https://app.example.com/home');
await page.getByRole('button', { name: 'New Order' }).click();
await page.getByLabel('Customer Name').fill('Acme Corp');
const rowCount = 3;
page.goto('https://app.example.com/orders');
`
	script := parseSource(t, source)
	if script.HasError() {
		t.Fatal("fixture should parse cleanly")
	}

	stmts := script.Statements()
	want := []struct {
		kind StatementKind
		verb string
		url  string
	}{
		{StmtOther, "", ""},
		{StmtNavigation, "goto", "https://app.example.com/home"},
		{StmtAction, "click", ""},
		{StmtAction, "fill", ""},
		{StmtOther, "", ""},
		{StmtNavigation, "goto", "https://app.example.com/orders"},
	}

	if len(stmts) != len(want) {
		t.Fatalf("got %d statements, want %d", len(stmts), len(want))
	}
	for i, w := range want {
		if stmts[i].Kind != w.kind {
			t.Errorf("statement %d: kind = %v, want %v", i, stmts[i].Kind, w.kind)
		}
		if stmts[i].Verb != w.verb {
			t.Errorf("statement %d: verb = %q, want %q", i, stmts[i].Verb, w.verb)
		}
		if stmts[i].URL != w.url {
			t.Errorf("statement %d: url = %q, want %q", i, stmts[i].URL, w.url)
		}
	}
}

func TestStatementsExcludeComments(t *testing.T) {
	source := `// step:ab12cd34 open the order list
await page.goto('https://app.example.com/orders');
// step:ef56ab78 pick the first row
await page.getByRole('row').first().click();
`
	script := parseSource(t, source)

	stmts := script.Statements()
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}

	comments := script.Comments()
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if !strings.HasPrefix(comments[0].Text, "// step:ab12cd34") {
		t.Errorf("unexpected first comment: %q", comments[0].Text)
	}
	if comments[1].Line != 3 {
		t.Errorf("second comment line = %d, want 3", comments[1].Line)
	}
}

func TestStatementsInsideTestBody(t *testing.T) {
	source := `import { test, expect } from '@playwright/test';

for (const [row, data] of rows.entries()) {
    test(` + "`Create Order (row ${row})`" + `, async ({ page }) => {
        await page.goto('https://app.example.com/orders');
        await page.getByLabel('Quantity').fill('2');
    });
}
`
	script := parseSource(t, source)

	var navs, actions int
	for _, s := range script.Statements() {
		switch s.Kind {
		case StmtNavigation:
			navs++
		case StmtAction:
			actions++
		}
	}
	if navs != 1 || actions != 1 {
		t.Errorf("got %d navigations and %d actions, want 1 and 1", navs, actions)
	}
}

func TestTestBodyRange(t *testing.T) {
	source := `import { test, expect } from '@playwright/test';

test('Create Order', async ({ page }) => {
    await page.goto('https://app.example.com/orders');
    await page.getByRole('button', { name: 'Save' }).click();
});
`
	script := parseSource(t, source)

	start, end, ok := script.TestBodyRange()
	if !ok {
		t.Fatal("TestBodyRange did not find a test body")
	}
	body := source[start:end]
	if !strings.Contains(body, "page.goto") || !strings.Contains(body, "Save") {
		t.Errorf("body range missing statements: %q", body)
	}
	if strings.Contains(body, "Create Order") {
		t.Errorf("body range leaked past the braces: %q", body)
	}
}

func TestTestBodyRangeMissing(t *testing.T) {
	script := parseSource(t, `await page.goto('https://app.example.com');`)
	if _, _, ok := script.TestBodyRange(); ok {
		t.Error("TestBodyRange found a body in raw captured source")
	}
}

func TestHasError(t *testing.T) {
	script := parseSource(t, `await page.goto('https://x.example.com/;\nthis is not ((( valid`)
	if !script.HasError() {
		t.Error("expected parse errors in malformed source")
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`'plain'`, "plain"},
		{`"double"`, "double"},
		{"`tick`", "tick"},
		{`'it\'s'`, "it's"},
		{`"tab\there"`, "tab\there"},
		{`'line\nbreak'`, "line\nbreak"},
		{`'back\\slash'`, `back\slash`},
		{`unquoted`, "unquoted"},
		{`'`, "'"},
		{``, ""},
	}
	for _, tt := range tests {
		if got := unquote(tt.in); got != tt.want {
			t.Errorf("unquote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
