// Package app wires the entity server runtime and HTTP lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/entityd/internal/api/rest"
	"github.com/louisbranch/entityd/internal/auth"
	"github.com/louisbranch/entityd/internal/entity"
	"github.com/louisbranch/entityd/internal/packet"
	"github.com/louisbranch/entityd/internal/platform/config"
	"github.com/louisbranch/entityd/internal/platform/timeouts"
	"github.com/louisbranch/entityd/internal/storage/sqlite"
	"github.com/louisbranch/entityd/internal/transaction"
)

// sweepInterval is how often expired nonces and idle transactions are pruned.
const sweepInterval = time.Minute

type serverEnv struct {
	DBPath      string        `env:"ENTITYD_DB_PATH"`
	PacketMagic string        `env:"ENTITYD_PACKET_MAGIC"`
	AuthSkew    time.Duration `env:"ENTITYD_AUTH_SKEW"`
	TxTTL       time.Duration `env:"ENTITYD_TX_TTL"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "entityd.db")
	}
	return cfg
}

// Server hosts the entity HTTP API and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	engine     *transaction.Engine
	verifier   *auth.Authenticator
}

// New creates a configured entity server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured entity server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	env := loadServerEnv()
	keyring, err := auth.KeyringFromEnv()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	store, err := openEntityStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	codec, err := packet.NewCodec([]byte(env.PacketMagic))
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	verifier := auth.NewAuthenticator(keyring, env.AuthSkew)
	engine := transaction.New(store, env.TxTTL)
	handler := rest.New(entity.New(store), engine, verifier, codec)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:    store,
		engine:   engine,
		verifier: verifier,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an entity server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	s.verifier.StartSweep(sweepCtx, sweepInterval)
	s.engine.StartSweep(sweepCtx, sweepInterval)

	log.Printf("entity server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http server: %v", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases entity server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close entity store: %v", err)
		}
	}
}

func openEntityStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open entity sqlite store: %w", err)
	}
	return store, nil
}
