package api

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/arrsync/internal/config"
)

// anonymousIdentity is recorded as deployer when no tokens are configured
const anonymousIdentity = "api"

type identityKey struct{}

// Identity returns the authenticated token name of a request
func Identity(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey{}).(string); ok {
		return v
	}
	return anonymousIdentity
}

// tokenAuth checks bearer tokens against bcrypt hashes. Verified tokens are
// remembered by digest so bcrypt runs once per token and process.
type tokenAuth struct {
	tokens []config.APIToken

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

func newTokenAuth(tokens []config.APIToken) *tokenAuth {
	return &tokenAuth{
		tokens:   tokens,
		verified: make(map[[sha256.Size]byte]string),
	}
}

func (a *tokenAuth) enabled() bool {
	return len(a.tokens) > 0
}

// lookup returns the name of the token matching secret
func (a *tokenAuth) lookup(secret string) (string, bool) {
	if secret == "" {
		return "", false
	}
	digest := sha256.Sum256([]byte(secret))

	a.mu.RLock()
	name, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, tok := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(tok.TokenHash), []byte(secret)) == nil {
			a.mu.Lock()
			a.verified[digest] = tok.Name
			a.mu.Unlock()
			return tok.Name, true
		}
	}
	return "", false
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware checks token authentication and stores the token name as
// the request identity
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.enabled() {
			// No tokens configured, allow all
			next.ServeHTTP(w, r)
			return
		}

		// Check Authorization header
		auth := r.Header.Get("Authorization")
		if auth == "" {
			// Also check X-API-Key header
			auth = r.Header.Get("X-API-Key")
		}
		auth = strings.TrimPrefix(auth, "Bearer ")

		name, ok := s.auth.lookup(auth)
		if !ok {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
