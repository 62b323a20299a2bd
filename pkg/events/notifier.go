package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/corectl/pkg/log"
	"github.com/rs/zerolog"
)

// callbackTimeout bounds a single watch-callback HTTP call. S4
// requires the callback to be hit within 250ms of the triggering put;
// a slow or hanging receiver must not stall the notifier loop for
// other watches.
const callbackTimeout = 5 * time.Second

// Notifier subscribes to a Broker and, for every event, POSTs the
// event body to every watch registered on that resource exactly once.
type Notifier struct {
	broker *Broker
	watches *WatchStore
	client  *http.Client
	logger  zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewNotifier builds a Notifier that will dispatch broker events
// against watches registered in store once Start is called.
func NewNotifier(broker *Broker, store *WatchStore) *Notifier {
	return &Notifier{
		broker:  broker,
		watches: store,
		client:  &http.Client{Timeout: callbackTimeout},
		logger:  log.WithComponent("events"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the dispatch loop on a fresh broker subscription.
func (n *Notifier) Start() {
	sub := n.broker.Subscribe()
	go n.run(sub)
}

func (n *Notifier) run(sub Subscriber) {
	defer close(n.doneCh)
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			n.dispatch(event)
		case <-n.stopCh:
			n.broker.Unsubscribe(sub)
			return
		}
	}
}

func (n *Notifier) dispatch(event Event) {
	watches := n.watches.WatchesFor(event.ResourceKind, event.ResourceID)
	for _, watch := range watches {
		go n.callback(watch, event)
	}
}

func (n *Notifier) callback(watch Watch, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Str("watch_id", watch.ID).Msg("failed to encode watch callback body")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, watch.CallbackURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Str("watch_id", watch.ID).Msg("failed to build watch callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("watch_id", watch.ID).Str("callback_url", watch.CallbackURL).Msg("watch callback failed")
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("watch_id", watch.ID).Msg("watch callback returned non-2xx")
	}
}

// Stop ends the dispatch loop and waits for it to exit.
func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.doneCh
}
