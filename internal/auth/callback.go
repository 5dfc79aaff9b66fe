package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CallbackPath is where the consent UI reports that the user finished.
const CallbackPath = "/auth-complete"

// CallbackListener is a short-lived loopback HTTP server. A POST to
// CallbackPath closes Done. The request carries no credential material.
type CallbackListener struct {
	ln   net.Listener
	srv  *http.Server
	done chan struct{}

	signalOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
	served     chan struct{}
}

// ListenCallback binds an ephemeral loopback port and starts serving.
func ListenCallback() (*CallbackListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("auth: callback listener: %w", err)
	}
	l := &CallbackListener{
		ln:     ln,
		done:   make(chan struct{}),
		served: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, l.handle)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		defer close(l.served)
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("consent callback server stopped")
		}
	}()
	log.Debug().Str("addr", ln.Addr().String()).Msg("consent callback listening")
	return l, nil
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		l.signalOnce.Do(func() { close(l.done) })
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Addr returns the bound address.
func (l *CallbackListener) Addr() string { return l.ln.Addr().String() }

// URL returns the callback URL handed to the consent UI.
func (l *CallbackListener) URL() string {
	port := l.ln.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d%s", port, CallbackPath)
}

// Done is closed once the consent UI has called back.
func (l *CallbackListener) Done() <-chan struct{} { return l.done }

// Close stops accepting connections and waits for the serve loop to exit.
// It is safe to call more than once.
func (l *CallbackListener) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			l.closeErr = l.srv.Close()
		}
		<-l.served
		log.Debug().Str("addr", l.ln.Addr().String()).Msg("consent callback closed")
	})
	return l.closeErr
}
