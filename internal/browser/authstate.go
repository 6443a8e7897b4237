package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"testloom/internal/logging"
)

// AuthState is a snapshot of the credentials a signed-in page holds. Saving
// it after a manual login lets later recording runs skip the login flow.
type AuthState struct {
	SavedAt        time.Time              `json:"saved_at"`
	URL            string                 `json:"url,omitempty"`
	Cookies        []*proto.NetworkCookie `json:"cookies"`
	LocalStorage   map[string]string      `json:"local_storage,omitempty"`
	SessionStorage map[string]string      `json:"session_storage,omitempty"`
}

// SaveAuthState snapshots cookies and web storage from a tracked page into
// the configured auth state file.
func (m *Manager) SaveAuthState(ctx context.Context, pageID string) error {
	if m.cfg.AuthStatePath == "" {
		return errors.New("no auth_state_path configured")
	}
	page, ok := m.Page(pageID)
	if !ok {
		return fmt.Errorf("unknown page: %s", pageID)
	}
	page = page.Context(ctx)

	state := AuthState{SavedAt: time.Now()}
	if meta, ok := m.GetPage(pageID); ok {
		state.URL = meta.URL
	}

	cookies, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	state.Cookies = cookies.Cookies

	local, session, err := snapshotStorage(page)
	if err != nil {
		logging.BrowserWarn("snapshot web storage: %v", err)
	} else {
		state.LocalStorage = local
		state.SessionStorage = session
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.AuthStatePath), 0o755); err != nil {
		return err
	}
	// Cookies carry live credentials, keep the file owner-only.
	if err := os.WriteFile(m.cfg.AuthStatePath, data, 0o600); err != nil {
		logging.Audit().FileOp(logging.AuditFileWrite, m.cfg.AuthStatePath, int64(len(data)), false, err.Error())
		return err
	}

	logging.Audit().FileOp(logging.AuditFileWrite, m.cfg.AuthStatePath, int64(len(data)), true, "")
	logging.Browser("saved auth state (%d cookies) to %s", len(state.Cookies), m.cfg.AuthStatePath)
	return nil
}

// RestoreAuthState loads the saved snapshot into a tracked page. Cookies are
// domain-scoped and apply immediately; web storage lands on the page's
// current origin, so navigate to the application first and reload after.
func (m *Manager) RestoreAuthState(ctx context.Context, pageID string) error {
	if m.cfg.AuthStatePath == "" {
		return errors.New("no auth_state_path configured")
	}
	page, ok := m.Page(pageID)
	if !ok {
		return fmt.Errorf("unknown page: %s", pageID)
	}
	page = page.Context(ctx)

	data, err := os.ReadFile(m.cfg.AuthStatePath)
	if err != nil {
		return fmt.Errorf("read auth state: %w", err)
	}
	var state AuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode auth state: %w", err)
	}

	if len(state.Cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: c.SameSite,
				Priority: c.Priority,
			})
		}
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("restore cookies: %w", err)
		}
	}

	if err := restoreStorage(page, state.LocalStorage, state.SessionStorage); err != nil {
		logging.BrowserWarn("restore web storage: %v", err)
	}

	logging.Browser("restored auth state (%d cookies) from %s", len(state.Cookies), m.cfg.AuthStatePath)
	return nil
}

func snapshotStorage(page *rod.Page) (local, session map[string]string, err error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => {
			const snap = { local: {}, session: {} };
			try {
				for (let i = 0; i < localStorage.length; i++) {
					const k = localStorage.key(i);
					snap.local[k] = localStorage.getItem(k);
				}
			} catch (e) {}
			try {
				for (let i = 0; i < sessionStorage.length; i++) {
					const k = sessionStorage.key(i);
					snap.session[k] = sessionStorage.getItem(k);
				}
			} catch (e) {}
			return snap;
		}`,
		ByValue: true,
	})
	if err != nil {
		return nil, nil, err
	}

	data, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, nil, err
	}

	var snap struct {
		Local   map[string]string `json:"local"`
		Session map[string]string `json:"session"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, err
	}
	return snap.Local, snap.Session, nil
}

func restoreStorage(page *rod.Page, local, session map[string]string) error {
	if len(local) == 0 && len(session) == 0 {
		return nil
	}
	_, err := page.Evaluate(&rod.EvalOptions{
		JS: `(local, session) => {
			try {
				for (const [k, v] of Object.entries(local || {})) localStorage.setItem(k, v);
			} catch (e) {}
			try {
				for (const [k, v] of Object.entries(session || {})) sessionStorage.setItem(k, v);
			} catch (e) {}
			return true;
		}`,
		JSArgs:  []interface{}{local, session},
		ByValue: true,
	})
	return err
}
