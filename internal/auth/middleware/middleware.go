package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/compclub/testengine/internal/rbac"
	"github.com/compclub/testengine/internal/roster"
)

type AuthService struct{ hmac []byte }

func NewAuthService(secret string) *AuthService { return &AuthService{hmac: []byte(secret)} }

type Claims struct {
	Sub          string `json:"sub"`
	Role         string `json:"role"` // student|grader|admin
	MembershipID string `json:"mid,omitempty"`
	ClubID       string `json:"club,omitempty"`
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role, membershipID, clubID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:          sub,
		Role:         role,
		MembershipID: membershipID,
		ClubID:       clubID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "testengine",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(8 * time.Hour)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	c, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return c, nil
}

// POST /auth/login  { "username": "...", "password": "...", "club_id": "..." }
// Verifies against the users table and binds the token to the caller's
// membership in the given club.
func LoginHandler(a *AuthService, db *sql.DB, memberships *roster.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			ClubID   string `json:"club_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		row := db.QueryRowContext(r.Context(),
			`SELECT id, password_hash FROM users WHERE username=$1`, req.Username)
		var userID, hash string
		if err := row.Scan(&userID, &hash); err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		m, err := memberships.MembershipForUser(r.Context(), userID, req.ClubID)
		if err != nil {
			http.Error(w, "no membership in club", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(userID, m.Role, m.ID, m.ClubID)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}

// JWTMiddleware validates the bearer token and attaches the caller identity
// for the rbac layer.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			claims, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := rbac.WithIdentity(r.Context(), rbac.Identity{
				Subject:      claims.Sub,
				Role:         claims.Role,
				MembershipID: claims.MembershipID,
				ClubID:       claims.ClubID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
