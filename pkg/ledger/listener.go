package ledger

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const reconnectBackoff = 5 * time.Second

// Handler dispatches decoded events to the round coordinator. Implementers
// must not block for long: the listener is the only reader of the
// connection and a slow handler delays every subsequent event.
type Handler interface {
	OnRoundStarted(RoundStartedData)
	OnModelUploaded(ModelUploadedData)
	OnStartAggregation(StartAggregationData)
}

// Listener maintains a persistent subscription to the ledger's push stream,
// reconnecting forever with a fixed backoff on any connection loss.
type Listener struct {
	url     string
	handler Handler
	dial    *websocket.Dialer
}

// NewListener creates a Listener for wsURL. dialer may be nil to use
// websocket.DefaultDialer.
func NewListener(wsURL string, handler Handler, dialer *websocket.Dialer) *Listener {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Listener{url: wsURL, handler: handler, dial: dialer}
}

// Run blocks, reconnecting forever until ctx is canceled. Parse failures and
// unknown events are logged and dropped; they never terminate the loop.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOnce(ctx); err != nil {
			log.Printf("[AGGREGATOR] ⚠️ event listener disconnected: %v; reconnecting in %s", err, reconnectBackoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, _, err := l.dial.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[AGGREGATOR] 🔌 connected to event stream at %s", l.url)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.dispatch(raw)
	}
}

func (l *Listener) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[AGGREGATOR] ❌ failed to parse event envelope: %v", err)
		return
	}

	switch env.Event {
	case EventRoundStarted:
		var d RoundStartedData
		if err := json.Unmarshal([]byte(env.Data), &d); err != nil {
			log.Printf("[AGGREGATOR] ❌ failed to parse ROUND_STARTED data: %v", err)
			return
		}
		l.handler.OnRoundStarted(d)
	case EventModelUploaded:
		var d ModelUploadedData
		if err := json.Unmarshal([]byte(env.Data), &d); err != nil {
			log.Printf("[AGGREGATOR] ❌ failed to parse MODEL_UPLOADED data: %v", err)
			return
		}
		l.handler.OnModelUploaded(d)
	case EventStartAggregation:
		var d StartAggregationData
		if err := json.Unmarshal([]byte(env.Data), &d); err != nil {
			log.Printf("[AGGREGATOR] ❌ failed to parse START_AGGREGATION data: %v", err)
			return
		}
		l.handler.OnStartAggregation(d)
	default:
		log.Printf("[AGGREGATOR] ⚠️ dropping unknown event kind: %s", env.Event)
	}
}
