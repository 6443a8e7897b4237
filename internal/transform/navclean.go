package transform

import (
	"context"
	"net/url"
	"strings"

	"testloom/internal/diff"
	"testloom/internal/logging"
)

// CleanupConfig controls the navigation cleanup pass.
type CleanupConfig struct {
	// AuthDomains lists authentication provider hosts whose navigations are
	// stripped from captured source. Matching is by host suffix, so
	// "okta.com" also covers "dev-123.okta.com".
	AuthDomains []string

	// RoutingParam is the query parameter the application under test uses
	// to route between views. Two URLs carrying the same value are the
	// same logical page even when other parameters differ.
	RoutingParam string
}

// DefaultCleanupConfig returns the stock cleanup settings.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		AuthDomains: []string{
			"accounts.google.com",
			"login.microsoftonline.com",
			"login.live.com",
			"okta.com",
			"auth0.com",
			"login.salesforce.com",
			"id.atlassian.com",
		},
		RoutingParam: "view",
	}
}

// CleanupPass strips authentication redirects and redundant navigations
// from captured source. The pass is idempotent and never removes the first
// navigation in the file, so the entry URL of a recording always survives.
type CleanupPass struct {
	cfg    CleanupConfig
	parser *Parser
}

// NewCleanupPass builds the pass. Callers should Close it when done.
func NewCleanupPass(cfg CleanupConfig) *CleanupPass {
	return &CleanupPass{cfg: cfg, parser: NewParser()}
}

// Name implements Pass.
func (p *CleanupPass) Name() string { return "navigation-cleanup" }

// Close releases the underlying parser.
func (p *CleanupPass) Close() { p.parser.Close() }

// Apply implements Pass. Source that does not parse is returned unchanged.
func (p *CleanupPass) Apply(ctx context.Context, source string) (string, []diff.Span, error) {
	script, err := p.parser.Parse(ctx, source)
	if err != nil {
		return "", nil, err
	}
	defer script.Close()

	if script.HasError() {
		logging.TransformWarn("navigation cleanup skipped: source does not parse")
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditPassSkipped,
			Category:  string(logging.CategoryTransform),
			Action:    p.Name(),
			Message:   "source does not parse",
		})
		return source, nil, nil
	}

	stmts := script.Statements()
	removed := p.selectRemovals(stmts)
	if len(removed) == 0 {
		return source, nil, nil
	}

	ranges := make([][2]int, 0, len(removed))
	for i := range stmts {
		if removed[i] {
			ranges = append(ranges, [2]int{stmts[i].StartByte, stmts[i].EndByte})
		}
	}
	out := spliceOut(source, ranges)
	logging.TransformDebug("navigation cleanup removed %d statement(s)", len(removed))
	return out, diff.ChangedSpans(source, out), nil
}

// selectRemovals decides which statements to drop. The first navigation in
// the file is exempt from every rule. Later rules see the statement list as
// it will look after earlier removals, which is what makes a second
// application of the pass a no-op.
func (p *CleanupPass) selectRemovals(stmts []Statement) map[int]bool {
	removed := make(map[int]bool)

	firstNav := -1
	for i := range stmts {
		if stmts[i].Kind == StmtNavigation {
			firstNav = i
			break
		}
	}

	// Navigations to authentication providers.
	for i := range stmts {
		if stmts[i].Kind != StmtNavigation || i == firstNav {
			continue
		}
		if p.isAuthHost(stmts[i].URL) {
			removed[i] = true
		}
	}

	live := func() []int {
		order := make([]int, 0, len(stmts))
		for i := range stmts {
			if !removed[i] {
				order = append(order, i)
			}
		}
		return order
	}

	// Runs of adjacent navigations to the identical URL keep only the
	// last, or the protected first navigation when the run contains it.
	order := live()
	for k := 0; k < len(order); {
		i := order[k]
		if stmts[i].Kind != StmtNavigation {
			k++
			continue
		}
		j := k
		for j+1 < len(order) {
			next := order[j+1]
			if stmts[next].Kind != StmtNavigation || stmts[next].URL != stmts[i].URL {
				break
			}
			j++
		}
		if j > k {
			keep := order[j]
			for m := k; m <= j; m++ {
				if order[m] == firstNav {
					keep = firstNav
					break
				}
			}
			for m := k; m <= j; m++ {
				if order[m] != keep {
					removed[order[m]] = true
				}
			}
		}
		k = j + 1
	}

	// A navigation right after an action is the page reacting to that
	// action. Drop it when it lands on the page we are already on.
	lastNav := ""
	prevKind := StmtOther
	havePrev := false
	for _, i := range live() {
		s := stmts[i]
		if s.Kind == StmtNavigation {
			if i != firstNav && havePrev && prevKind == StmtAction &&
				lastNav != "" && p.sameTarget(s.URL, lastNav) {
				removed[i] = true
				continue
			}
			lastNav = s.URL
		}
		prevKind = s.Kind
		havePrev = true
	}

	return removed
}

// isAuthHost reports whether the URL's host is one of the configured
// authentication provider domains or a subdomain of one.
func (p *CleanupPass) isAuthHost(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range p.cfg.AuthDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// sameTarget reports whether two navigation targets land on the same
// logical page: an exact match, or the same routing parameter value when
// both URLs carry one.
func (p *CleanupPass) sameTarget(a, b string) bool {
	if a == b {
		return true
	}
	if p.cfg.RoutingParam == "" {
		return false
	}
	va, oka := routingValue(a, p.cfg.RoutingParam)
	vb, okb := routingValue(b, p.cfg.RoutingParam)
	return oka && okb && va == vb
}

// routingValue extracts the routing parameter from a URL's query string.
func routingValue(raw, param string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	vals, ok := u.Query()[param]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}
