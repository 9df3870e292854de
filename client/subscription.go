package client

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsSubscription pumps change events from a websocket into per-table
// handlers. All handlers run on the pump goroutine, so a screen's state is
// only ever mutated from one goroutine.
type wsSubscription struct {
	conn      *websocket.Conn
	handlers  map[string]ChangeHandlers
	logger    *zap.Logger
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSubscription(conn *websocket.Conn, handlers map[string]ChangeHandlers, logger *zap.Logger) *wsSubscription {
	sub := &wsSubscription{
		conn:     conn,
		handlers: handlers,
		logger:   logger,
		closed:   make(chan struct{}),
	}
	go sub.pump()
	return sub
}

// Close tears the stream down. Events already in flight are discarded; no
// handler runs after Close returns the channel to the closed state.
func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) pump() {
	defer s.Close()
	for {
		var event ChangeEvent
		if err := s.conn.ReadJSON(&event); err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Debug("change stream closed", zap.Error(err))
			}
			return
		}
		select {
		case <-s.closed:
			return
		default:
		}
		if handlers, ok := s.handlers[event.Table]; ok {
			handlers.dispatch(event)
		}
	}
}
