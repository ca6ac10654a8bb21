package conn

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Upgrader wraps gorilla/websocket.Upgrader with the fabric's fixed
// buffer sizing and permissive origin check (spec §6: the fabric sits
// behind a gateway that has already authorized the origin; the Identity
// Resolver is the actual trust boundary, enforced during NEGOTIATING).
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve upgrades an HTTP request to a WebSocket and runs a Conn over it
// until the connection closes or the request's context is canceled.
func Serve(w http.ResponseWriter, r *http.Request, dispatcher *Dispatcher, presence Presence, talks Talks, b Bus) error {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := New(ws, dispatcher, presence, talks, b)
	c.Run(r.Context())
	return nil
}
