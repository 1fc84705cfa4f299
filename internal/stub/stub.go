// Package stub is a development and test stand-in for the trusted platform
// backend. It implements the crypto, session, and data endpoints the
// gateway depends on, with AES-GCM tokens and JWT-backed sessions. It is
// not the production backend and holds everything in memory.
package stub

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mealdesk.org/internal/backend"
	"mealdesk.org/internal/tenant"
)

const sessionTTL = 30 * time.Minute

// Server implements the backend HTTP contract the gateway consumes.
type Server struct {
	aead      cipher.AEAD
	jwtSecret []byte

	mu        sync.RWMutex
	companies map[string]backend.Company
	users     map[string]backend.User
	employees map[string][]backend.Employee
	offers    map[string][]backend.Offer

	mux *http.ServeMux
}

// New builds a stub with fresh random key material. Deterministic keys can
// be injected for tests via NewWithKeys.
func New() (*Server, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("stub: generate key: %w", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("stub: generate secret: %w", err)
	}
	return NewWithKeys(key, secret)
}

// NewWithKeys builds a stub using the provided AES-256 key and JWT secret.
func NewWithKeys(aesKey, jwtSecret []byte) (*Server, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("stub: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("stub: gcm: %w", err)
	}
	s := &Server{
		aead:      aead,
		jwtSecret: jwtSecret,
		companies: make(map[string]backend.Company),
		users:     make(map[string]backend.User),
		employees: make(map[string][]backend.Employee),
		offers:    make(map[string][]backend.Offer),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/crypto/encrypt", s.handleEncrypt)
	s.mux.HandleFunc("POST /api/crypto/decrypt", s.handleDecrypt)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/verify-session", s.handleVerifySession)
	s.mux.HandleFunc("GET /api/companies/{id}", s.handleCompany)
	s.mux.HandleFunc("GET /api/companies/{id}/employees", s.handleEmployees)
	s.mux.HandleFunc("GET /api/companies/{id}/offers", s.handleOffers)
	s.mux.HandleFunc("GET /api/users/{id}", s.handleUser)
	s.mux.HandleFunc("GET /api/users/{id}/inbox/summary", s.handleInbox)
}

// Handler returns the HTTP surface of the stub.
func (s *Server) Handler() http.Handler { return s.mux }

// Seed helpers --------------------------------------------------------------

// AddCompany registers a company with its roster and offers.
func (s *Server) AddCompany(c backend.Company, employees []backend.Employee, offers []backend.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
	s.employees[c.ID] = employees
	s.offers[c.ID] = offers
}

// AddUser registers an individual user.
func (s *Server) AddUser(u backend.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// SeedDemo loads a small demo dataset and returns the (companyID, userID)
// pair of the corporate tenant.
func (s *Server) SeedDemo() (string, string) {
	companyID := uuid.NewString()
	userID := uuid.NewString()
	s.AddCompany(
		backend.Company{ID: companyID, Name: "Demo Corporate Kitchen", Type: tenant.Corporate, Address: "1 Demo Way"},
		[]backend.Employee{
			{ID: uuid.NewString(), Name: "Dana Demo", Email: "dana@example.com", Role: "owner", Active: true},
			{ID: uuid.NewString(), Name: "Sam Sample", Email: "sam@example.com", Role: "staff", Active: true},
		},
		[]backend.Offer{
			{ID: uuid.NewString(), Title: "Weekly lunch plan", PriceMinor: 24900, Currency: "EUR"},
		},
	)
	s.AddUser(backend.User{ID: userID, Name: "Dana Demo", Email: "dana@example.com", CompanyID: companyID})
	return companyID, userID
}

// Token service -------------------------------------------------------------

// EncryptIdentifier seals a plain identifier into a URL-safe token.
func (s *Server) EncryptIdentifier(id string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(id), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptToken opens a token minted by EncryptIdentifier. Any tampering
// fails GCM authentication and is rejected.
func (s *Server) DecryptToken(tok string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", errors.New("malformed token")
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+1 {
		return "", errors.New("malformed token")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", errors.New("token rejected")
	}
	return string(plain), nil
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	tok, err := s.EncryptIdentifier(req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encryption failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted": tok})
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Encrypted string `json:"encrypted"`
	}
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.Encrypted) == "" {
		writeError(w, http.StatusBadRequest, "encrypted is required")
		return
	}
	id, err := s.DecryptToken(req.Encrypted)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"decrypted": id})
}

// Sessions ------------------------------------------------------------------

type sessionClaims struct {
	CompanyID string `json:"companyId"`
	jwt.RegisteredClaims
}

// IssueSession mints a session credential for the given identity, as the
// real backend would at login.
func (s *Server) IssueSession(companyID, userID string) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) parseSession(credential string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(credential, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid session")
	}
	return claims, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyID string `json:"companyId"`
		UserID    string `json:"userId"`
	}
	if err := decode(r, &req); err != nil || req.CompanyID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "companyId and userId are required")
		return
	}
	tok, err := s.IssueSession(req.CompanyID, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	var req struct {
		CompanyID string `json:"companyId"`
		UserID    string `json:"userId"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.CompanyID != claims.CompanyID || req.UserID != claims.Subject {
		writeError(w, http.StatusForbidden, "identity mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authenticate(r *http.Request) (*sessionClaims, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return nil, false
	}
	claims, err := s.parseSession(strings.TrimSpace(h[len("bearer "):]))
	if err != nil {
		return nil, false
	}
	return claims, true
}

// Data ----------------------------------------------------------------------

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	id := r.PathValue("id")
	if id != claims.CompanyID {
		writeError(w, http.StatusForbidden, "wrong tenant")
		return
	}
	s.mu.RLock()
	c, found := s.companies[id]
	s.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "no such company")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEmployees(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	id := r.PathValue("id")
	if id != claims.CompanyID {
		writeError(w, http.StatusForbidden, "wrong tenant")
		return
	}
	s.mu.RLock()
	list := s.employees[id]
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	id := r.PathValue("id")
	if id != claims.CompanyID {
		writeError(w, http.StatusForbidden, "wrong tenant")
		return
	}
	s.mu.RLock()
	list := s.offers[id]
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	id := r.PathValue("id")
	if id != claims.Subject {
		writeError(w, http.StatusForbidden, "wrong user")
		return
	}
	s.mu.RLock()
	u, found := s.users[id]
	s.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "no such user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	if r.PathValue("id") != claims.Subject {
		writeError(w, http.StatusForbidden, "wrong user")
		return
	}
	writeJSON(w, http.StatusOK, backend.InboxSummary{Unread: 3})
}

// Helpers -------------------------------------------------------------------

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
