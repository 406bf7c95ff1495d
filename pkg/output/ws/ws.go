// Package ws serves readings to browsers: a WebSocket stream on /ws and the
// latest reading as JSON on /weight.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/output"
	"github.com/ericogr/hx711-scale/pkg/sensor"
	"github.com/gorilla/websocket"
)

const (
	DefaultListen = ":8080"
	TypeWeight    = "weight"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// dashboards are served from other origins on the LAN
		return true
	},
}

type WSOutput struct {
	hub *hub
	srv *http.Server
	ln  net.Listener

	mu      sync.RWMutex
	last    sensor.Reading
	hasLast bool
}

// NewWS starts listening on cfg.Listen and serves in the background.
func NewWS(cfg config.WSConfig) (output.Output, error) {
	return listen(cfg)
}

func listen(cfg config.WSConfig) (*WSOutput, error) {
	addr := cfg.Listen
	if addr == "" {
		addr = DefaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen %s: %w", addr, err)
	}
	o := &WSOutput{hub: newHub(), ln: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", o.handleWS)
	mux.HandleFunc("/weight", o.handleWeight)
	o.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := o.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ws server stopped", "err", err)
		}
	}()
	slog.Info("ws output listening", "addr", ln.Addr().String())
	return o, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (o *WSOutput) Addr() string { return o.ln.Addr().String() }

func (o *WSOutput) Publish(r sensor.Reading) error {
	o.mu.Lock()
	o.last, o.hasLast = r, true
	o.mu.Unlock()
	return o.hub.broadcast(Message{Type: TypeWeight, Data: r})
}

func (o *WSOutput) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o.hub.closeAll()
	return o.srv.Shutdown(ctx)
}

func (o *WSOutput) lastReading() (sensor.Reading, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last, o.hasLast
}

func (o *WSOutput) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := o.hub.add(conn)
	if last, ok := o.lastReading(); ok {
		if b, err := json.Marshal(Message{Type: TypeWeight, Data: last}); err == nil {
			_ = c.send(b)
		}
	}
	// Keep reading until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			o.hub.remove(c)
			return
		}
	}
}

func (o *WSOutput) handleWeight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	last, ok := o.lastReading()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(last)
}
