package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// SessionHeader carries the client device id that namespaces cart storage.
const SessionHeader = "X-Session-ID"

const maxSessionIDLen = 128

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity set by Authenticator, or the
// guest.
func IdentityFromContext(ctx context.Context) identity.Identity {
	id, _ := ctx.Value(identityKey{}).(identity.Identity)
	return id
}

// Claims is the bearer token payload. The subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the bearer token of a request into an identity.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator for HS256 tokens signed with
// secret. With an empty secret every request is served as the guest.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for id valid for ttl.
func (a *Authenticator) Issue(id identity.Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := a.now()
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Identify parses the Authorization header. A missing or invalid token
// yields the guest.
func (a *Authenticator) Identify(r *http.Request) identity.Identity {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || len(a.secret) == 0 {
		return identity.Guest()
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || claims.Subject == "" {
		zctx.From(r.Context()).Debug("Ignoring bearer token", zap.Error(err))
		return identity.Guest()
	}
	return identity.Identity{ID: claims.Subject, Role: claims.Role}
}

// Middleware stores the request identity in the context.
func (a *Authenticator) Middleware() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := a.Identify(r)
			ctx := WithIdentity(r.Context(), id)
			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("identity", id.Key())))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// session is the cart store and checkout owner of one request.
type session struct {
	ID       string
	Identity identity.Identity
	Store    *cart.Store
}

// Owner scopes checkout attempts to the device and the identity using it.
func (s session) Owner() string {
	return ownerKey(s.ID, s.Identity)
}

func ownerKey(sid string, id identity.Identity) string {
	return sid + "/" + id.Key()
}

// sessionID returns the validated session header of r.
func sessionID(r *http.Request) (string, bool) {
	sid := strings.TrimSpace(r.Header.Get(SessionHeader))
	if sid == "" || len(sid) > maxSessionIDLen || strings.ContainsAny(sid, "/: \t") {
		return "", false
	}
	return sid, true
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s session)

// withSession resolves the cart store of the requesting device, switching it
// to the request identity first.
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "missing or malformed "+SessionHeader+" header")
			return
		}

		id := IdentityFromContext(r.Context())
		ctx := zctx.Base(r.Context(), zctx.From(r.Context()).With(zap.String("session", sid)))
		store, err := h.Sessions.Resolve(ctx, sid, id)
		if err != nil {
			zctx.From(ctx).Warn("Session resolve failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "cart storage temporarily unavailable")
			return
		}
		next(w, r.WithContext(ctx), session{ID: sid, Identity: id, Store: store})
	}
}
