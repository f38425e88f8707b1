package messaging

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// Subjects. Quotes fan out per kind so consumers can subscribe to a
// single table's stream.
const (
	subjectQuotePrefix = "quotes"
	subjectATMChanges  = "atm.changes"
	subjectSessions    = "sessions.events"
)

// NATSClient handles NATS messaging operations
type NATSClient struct {
	conn    *nats.Conn
	encoder *nats.EncodedConn
	logger  *logrus.Entry
	cfg     *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	encoder, err := nats.NewEncodedConn(conn, nats.JSON_ENCODER)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create encoded connection: %w", err)
	}

	return &NATSClient{
		conn:    conn,
		encoder: encoder,
		logger:  logger.WithField("component", "nats"),
		cfg:     cfg,
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.encoder.Close()
	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// PublishQuote publishes a validated quote snapshot
func (nc *NATSClient) PublishQuote(snap *models.QuoteSnapshot) error {
	subject := fmt.Sprintf("%s.%s.%s", subjectQuotePrefix, snap.Kind, snap.Token)
	return nc.encoder.Publish(subject, snap)
}

// PublishATMChange publishes an ATM re-binding event
func (nc *NATSClient) PublishATMChange(change *models.ATMChange) error {
	return nc.encoder.Publish(subjectATMChanges, change)
}

// SessionEvent marks a market-session transition.
type SessionEvent struct {
	Date  string `json:"date"`
	State string `json:"state"`
}

// PublishSessionEvent publishes a session state transition
func (nc *NATSClient) PublishSessionEvent(event *SessionEvent) error {
	return nc.encoder.Publish(subjectSessions, event)
}

// SubscribeQuotes subscribes to all quote snapshots
func (nc *NATSClient) SubscribeQuotes(handler func(snap *models.QuoteSnapshot)) error {
	subject := subjectQuotePrefix + ".>"

	sub, err := nc.encoder.Subscribe(subject, func(snap *models.QuoteSnapshot) {
		handler(snap)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to quotes: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// SubscribeATMChanges subscribes to ATM re-binding events
func (nc *NATSClient) SubscribeATMChanges(handler func(change *models.ATMChange)) error {
	sub, err := nc.encoder.Subscribe(subjectATMChanges, func(change *models.ATMChange) {
		handler(change)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to ATM changes: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subjectATMChanges] = sub
	nc.subsMu.Unlock()

	return nil
}
