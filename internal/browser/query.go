package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"testloom/internal/locator"
)

// Querier returns a live-page match counter for a tracked page.
func (m *Manager) Querier(pageID string) (locator.PageQuerier, error) {
	page, ok := m.Page(pageID)
	if !ok {
		return nil, fmt.Errorf("unknown page: %s", pageID)
	}
	return &rodQuerier{page: page}, nil
}

type rodQuerier struct {
	page *rod.Page
}

// CountMatches counts elements matching loc in the current document. A JS
// throw (for example an invalid CSS selector) surfaces as an error, which the
// evaluator treats as unresolvable.
func (q *rodQuerier) CountMatches(ctx context.Context, loc locator.Locator) (int, error) {
	selector := loc.Selector
	name := ""
	if loc.Strategy == locator.StrategyRole {
		selector, name = locator.SplitRoleSelector(loc.Selector)
	}

	res, err := q.page.Context(ctx).Eval(countMatchesJS, string(loc.Strategy), selector, name)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// countMatchesJS mirrors how the generated statements resolve elements. Role
// matching covers explicit role attributes plus the implicit roles of common
// form and content tags, filtered by accessible name when one is given.
const countMatchesJS = `(strategy, selector, name) => {
	const attrEsc = (s) => String(s).replace(/\\/g, '\\\\').replace(/"/g, '\\"');

	const textOf = (el) => (el.innerText || '').trim().replace(/\s+/g, ' ');

	const implicitRole = (el) => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		if (tag === 'button') return 'button';
		if (tag === 'a' && el.hasAttribute('href')) return 'link';
		if (tag === 'select') return 'combobox';
		if (tag === 'textarea') return 'textbox';
		if (tag === 'input') {
			if (type === 'button' || type === 'submit' || type === 'reset') return 'button';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (type === 'range') return 'slider';
			if (type === 'hidden') return '';
			return 'textbox';
		}
		if (/^h[1-6]$/.test(tag)) return 'heading';
		if (tag === 'img') return 'img';
		return '';
	};

	const labelTextFor = (el) => {
		const aria = el.getAttribute('aria-label');
		if (aria) return aria.trim();
		if (el.id) {
			const labels = document.querySelectorAll('label[for="' + attrEsc(el.id) + '"]');
			if (labels.length > 0) return labels[0].textContent.trim();
		}
		const wrap = el.closest('label');
		if (wrap) return wrap.textContent.trim();
		return '';
	};

	const accessibleName = (el) => {
		const lab = labelTextFor(el);
		if (lab) return lab;
		return (el.innerText || el.value || '').trim().replace(/\s+/g, ' ');
	};

	switch (strategy) {
	case 'css':
		return document.querySelectorAll(selector).length;
	case 'xpath': {
		const res = document.evaluate(selector, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		return res.snapshotLength;
	}
	case 'testid':
		return document.querySelectorAll('[data-testid="' + attrEsc(selector) + '"]').length;
	case 'placeholder':
		return document.querySelectorAll('[placeholder="' + attrEsc(selector) + '"]').length;
	case 'label': {
		let count = 0;
		for (const lab of document.querySelectorAll('label')) {
			if (lab.textContent.trim() !== selector) continue;
			const forId = lab.getAttribute('for');
			if (forId) {
				if (document.getElementById(forId)) count++;
				continue;
			}
			if (lab.querySelector('input, select, textarea')) count++;
		}
		count += document.querySelectorAll('[aria-label="' + attrEsc(selector) + '"]').length;
		return count;
	}
	case 'text': {
		// Count innermost elements whose normalized text equals the
		// selector, so a matching <span> does not also count its ancestors.
		let count = 0;
		outer:
		for (const el of document.querySelectorAll('*')) {
			if (textOf(el) !== selector) continue;
			for (const child of el.children) {
				if (textOf(child) === selector) continue outer;
			}
			count++;
		}
		return count;
	}
	case 'role': {
		let count = 0;
		for (const el of document.querySelectorAll('*')) {
			const role = el.getAttribute('role') || implicitRole(el);
			if (role !== selector) continue;
			if (name && accessibleName(el) !== name) continue;
			count++;
		}
		return count;
	}
	}
	throw new Error('unknown strategy: ' + strategy);
}`
