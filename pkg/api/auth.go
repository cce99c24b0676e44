package api

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Credentials is one realm's Basic-auth username and bcrypt password
// hash.
type Credentials struct {
	User     string
	PassHash string
}

// HashPassword bcrypt-hashes a plaintext password for storage in
// config.APIConfig.OwnerPassHash.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// basicAuth wraps next with HTTP Basic auth, rejecting requests that
// don't match creds with a 401 carrying the given realm.
func basicAuth(realm string, creds Credentials, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(creds.PassHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
