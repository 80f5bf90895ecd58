package devbackend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", Health)
	r.Post("/session", b.createSession)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/state", b.state)
		r.Post("/join", b.join)
		r.Post("/ready", b.command(CmdReady))
		r.Post("/place-unit", b.command(CmdPlaceUnit))
		r.Post("/remove-unit", b.command(CmdRemoveUnit))
		r.Post("/auto-place", b.command(CmdAutoPlace))
		r.Post("/action", b.command(CmdAttack))
		r.Post("/surrender", b.command(CmdSurrender))
		r.Delete("/", b.deleteSession)
	})
	r.Get("/room/{code}/info", b.roomInfo)
	r.Get("/live/session/{id}", b.live)
	return r
}
