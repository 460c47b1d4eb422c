package identity

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/erilali/readsync/internal/config"
)

// NewSessionManager builds the session manager shared with the catalog app.
// The returned close func releases the sqlite handle when one was opened.
func NewSessionManager(cfg config.Session) (*scs.SessionManager, func() error, error) {
	sm := scs.New()
	sm.Lifetime = cfg.Lifetime
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode

	closeFn := func() error { return nil }
	if cfg.Store == "sqlite" {
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open session db: %w", err)
		}
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expiry REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create sessions table: %w", err)
		}
		sm.Store = sqlite3store.New(db)
		closeFn = db.Close
	}
	return sm, closeFn, nil
}

// SessionResolver reads the user key from the session cookie. It loads the
// session itself instead of relying on LoadAndSave, which would wrap the
// response writer that the websocket upgrade has to hijack.
type SessionResolver struct {
	Sessions *scs.SessionManager
	Key      string
}

func (s *SessionResolver) ResolveUserKey(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.Sessions.Cookie.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	ctx, err := s.Sessions.Load(r.Context(), cookie.Value)
	if err != nil {
		return "", false
	}
	key := s.Sessions.GetString(ctx, s.Key)
	return key, key != ""
}
