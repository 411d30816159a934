package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/config"
	applogger "AutoTrader/pkg/logger"
)

// TradeUpdateHandler receives every order event from the stream.
type TradeUpdateHandler func(models.TradeUpdate)

type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type tradeUpdateData struct {
	Event     string    `json:"event"`
	Price     num       `json:"price"`
	Qty       num       `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
	Order     orderDTO  `json:"order"`
}

// TradeUpdateStream listens to Alpaca's trade_updates websocket stream and
// reconnects after reconnectDelay whenever the connection drops.
type TradeUpdateStream struct {
	url            string
	key, secret    string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	l              *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func NewTradeUpdateStream(cfg config.AlpacaConfig, l *applogger.Logger) *TradeUpdateStream {
	if l == nil {
		l = applogger.Nop()
	}
	return &TradeUpdateStream{
		url:            cfg.StreamURL,
		key:            cfg.APIKey,
		secret:         cfg.APISecret,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   30 * time.Second,
		dialer:         websocket.DefaultDialer,
		l:              l.Component("trade_stream"),
	}
}

// Run connects, authenticates and delivers updates to h until ctx is done.
func (s *TradeUpdateStream) Run(ctx context.Context, h TradeUpdateHandler) error {
	for {
		err := s.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		s.l.Warn("trade stream disconnected", applogger.Error(err), applogger.Duration("retry_in", s.reconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *TradeUpdateStream) session(ctx context.Context, h TradeUpdateHandler) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("trade stream connect: %w", err)
	}
	s.setConn(conn)
	defer s.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	if err := s.handshake(conn); err != nil {
		return err
	}
	s.l.Info("trade stream connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("trade stream read: %w", err)
		}
		u, ok, err := decodeTradeUpdate(b)
		if err != nil {
			s.l.Debug("trade stream frame ignored", applogger.Error(err))
			continue
		}
		if ok {
			h(u)
		}
	}
}

func (s *TradeUpdateStream) handshake(conn *websocket.Conn) error {
	if err := conn.WriteJSON(map[string]interface{}{
		"action": "authenticate",
		"data":   map[string]string{"key_id": s.key, "secret_key": s.secret},
	}); err != nil {
		return fmt.Errorf("trade stream auth: %w", err)
	}
	_, b, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("trade stream auth reply: %w", err)
	}
	var msg streamMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return fmt.Errorf("trade stream auth reply: %w", err)
	}
	var auth authData
	_ = json.Unmarshal(msg.Data, &auth)
	if msg.Stream != "authorization" || auth.Status != "authorized" {
		return errors.New("trade stream not authorized")
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}); err != nil {
		return fmt.Errorf("trade stream listen: %w", err)
	}
	return nil
}

func (s *TradeUpdateStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// decodeTradeUpdate returns ok=false for frames that are not trade updates.
func decodeTradeUpdate(b []byte) (models.TradeUpdate, bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return models.TradeUpdate{}, false, err
	}
	if msg.Stream != "trade_updates" {
		return models.TradeUpdate{}, false, nil
	}
	var d tradeUpdateData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return models.TradeUpdate{}, false, err
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = d.Order.SubmittedAt
	}
	return models.TradeUpdate{
		Event:     d.Event,
		OrderID:   d.Order.ID,
		Symbol:    d.Order.Symbol,
		Side:      models.Side(strings.ToUpper(d.Order.Side)),
		Qty:       float64(d.Qty),
		Price:     float64(d.Price),
		Timestamp: ts,
	}, true, nil
}

func (s *TradeUpdateStream) setConn(c *websocket.Conn) {
	s.mu.Lock()
	s.conn = c
	s.connected = true
	s.mu.Unlock()
}

// Close closes the current connection, if any.
func (s *TradeUpdateStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsConnected indicates status.
func (s *TradeUpdateStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
