// Package realtime pushes an account's bus traffic (job status, scrape
// results, challenge requests) to operator dashboards over a websocket,
// and accepts challenge answers back on the same connection.
package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var tracer = otel.Tracer("services/realtime")

// Outbound is the envelope every server-to-client message travels in.
type Outbound struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
	// set on challenge_ack and challenge_error only
	ChallengeId string `json:"challenge_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ChallengeAnswer is the only client-to-server message: an operator
// settling a challenge.
type ChallengeAnswer struct {
	ChallengeId string             `json:"challenge_id"`
	Payload     challenges.Payload `json:"payload"`
}

type Gateway struct {
	bus    *events.Bus
	broker *challenges.Broker
}

func NewGateway(bus *events.Bus, broker *challenges.Broker) *Gateway {
	return &Gateway{bus: bus, broker: broker}
}

// Handle upgrades the request and streams the account's topic until the
// client goes away. Mount it under something like GET /ws?account=<id>.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "missing account query parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// operator dashboards live on their own origins
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	connId, err := random.String(12)
	if err != nil {
		connId = "unknown"
	}
	slog.Info("realtime client connected", "conn_id", connId, "account", account)
	defer slog.Info("realtime client disconnected", "conn_id", connId, "account", account)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := g.bus.Subscribe("account/" + account)
	defer sub.Close()

	// the websocket allows one concurrent writer, so challenge acks from
	// the read loop are funneled through the single write loop below
	acks := make(chan Outbound, 8)
	go g.readLoop(ctx, cancel, conn, acks)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case out := <-acks:
			err := wsjson.Write(ctx, conn, out)
			if err != nil {
				return
			}
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			err := wsjson.Write(ctx, conn, Outbound{Kind: msg.Kind, Payload: msg.Payload})
			if err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, acks chan<- Outbound) {
	defer cancel()

	for {
		var answer ChallengeAnswer
		err := wsjson.Read(ctx, conn, &answer)
		if err != nil {
			return
		}

		ctx, span := tracer.Start(ctx, "gateway:resolveChallenge")
		err = g.broker.Resolve(ctx, answer.ChallengeId, answer.Payload)
		span.End()

		out := Outbound{Kind: "challenge_ack", ChallengeId: answer.ChallengeId}
		if err != nil {
			out.Kind = "challenge_error"
			out.Error = err.Error()
		}
		select {
		case acks <- out:
		case <-ctx.Done():
			return
		}
	}
}
