package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/hub"
	"github.com/petotech/judge-backend/internal/store"
	"github.com/petotech/judge-backend/internal/ws"
)

// Deps bundles everything the routes need; main builds it once.
type Deps struct {
	Hub           *hub.Hub
	Store         *store.Store
	JWTSecret     string
	SessionTTL    time.Duration
	WSReadTimeout time.Duration
	Logger        *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/login", Login(d.Store, d.JWTSecret, d.SessionTTL, d.Logger))
	r.Post("/usuarios", CreateUser(d.Store, d.Logger))
	r.Post("/alertas", RegisterAlert(d.Logger))

	r.Route("/combates/{combatID}", func(r chi.Router) {
		r.Get("/puntos", GetPoints(d.Store, d.Logger))
		r.Get("/estado", GetCombatState(d.Hub))
		r.Post("/reset", ResetFull(d.Hub, d.Store, d.Logger))
		r.Post("/reset_puntos", ResetScoresOnly(d.Hub, d.Store, d.Logger))
	})

	r.Get("/ws", ws.Handler(d.Hub, d.JWTSecret, d.WSReadTimeout, d.Logger))
	return r
}
