package middleware

import (
	"net/http"

	"github.com/nkiryanov/parcelguard/internal/handlers/actorctx"
	"github.com/nkiryanov/parcelguard/internal/handlers/render"
	"github.com/nkiryanov/parcelguard/internal/models"
)

type actorParser interface {
	FromRequest(r *http.Request) (models.Actor, error)
}

type Auth struct {
	actors actorParser
}

func NewAuth(actors actorParser) *Auth {
	return &Auth{actors: actors}
}

// Require rejects requests without valid access token and actors not passing allow
func (a *Auth) Require(allow func(models.Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := a.actors.FromRequest(r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !allow(actor) {
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(actorctx.New(r.Context(), actor)))
		})
	}
}

// Optional attaches actor to the context if request carries valid access token.
// Anonymous requests and requests with invalid tokens pass as anonymous.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actors.FromRequest(r)
		if err == nil {
			r = r.WithContext(actorctx.New(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func Staff(a models.Actor) bool { return a.IsStaff() }
func Admin(a models.Actor) bool { return a.IsAdmin() }
