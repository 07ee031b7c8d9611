// Package rpcserver serves the ledger over JSON-RPC along with the
// snapshot and genesis archives of the ledger directory.
package rpcserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/metrics"
	"go.firedancer.io/staker/pkg/snapshot"
	"k8s.io/klog/v2"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Listen         string
	AllowedOrigins []string
	// LedgerDir holds the archives served at /snapshot.tgz and
	// /genesis.tgz.
	LedgerDir        string
	ExitPollInterval time.Duration
}

type Server struct {
	cfg     Config
	handler http.Handler
	exit    atomic.Bool
}

func New(cfg Config, ledger Ledger, m *metrics.Metrics) (*Server, error) {
	if cfg.ExitPollInterval <= 0 {
		return nil, errors.Errorf("invalid exit poll interval %s", cfg.ExitPollInterval)
	}

	rpcServer := rpc.NewServer()
	codec := newCodec(rpcServer)
	rpcServer.RegisterCodec(codec, "application/json")
	rpcServer.RegisterCodec(codec, "application/json;charset=UTF-8")
	err := rpcServer.RegisterService(&service{ledger: ledger}, serviceName)
	if err != nil {
		return nil, errors.Wrap(err, "register rpc service")
	}
	rpcServer.RegisterValidateRequestFunc(validateArgs)
	rpcServer.RegisterAfterFunc(func(info *rpc.RequestInfo) {
		m.ObserveRPC(strings.TrimPrefix(info.Method, serviceName+"."), info.Error)
	})

	s := &Server{cfg: cfg}
	router := mux.NewRouter()
	router.Handle("/", handlers.CompressHandler(rpcServer)).Methods(http.MethodPost)
	for _, name := range []string{snapshot.FileName, genesis.ArchiveFileName} {
		router.Handle("/"+name, s.archiveHandler(name)).Methods(http.MethodGet, http.MethodHead)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)
	s.handler = handlers.CombinedLoggingHandler(klogWriter{}, handler)
	return s, nil
}

// Handler returns the HTTP handler of the server, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// archiveHandler serves a file of the ledger directory. The file may be
// replaced while the node runs; each request opens it anew.
func (s *Server) archiveHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(s.cfg.LedgerDir, name)
		file, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			klog.Errorf("opening %s: %s", path, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil || !info.Mode().IsRegular() {
			klog.Errorf("serving %s: not a readable file", path)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		http.ServeContent(w, r, name, info.ModTime(), file)
	})
}

// Exit asks a running server to shut down. The flag is polled every
// ExitPollInterval.
func (s *Server) Exit() {
	s.exit.Store(true)
}

// Run listens on the configured address and serves until ctx is done or
// Exit is called.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen rpc addr [%v]", s.cfg.Listen)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: time.Second,
	}
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(listener)
	}()
	klog.Infof("rpc server listening on %s", listener.Addr())

	ticker := time.NewTicker(s.cfg.ExitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-served:
			return errors.Wrap(err, "serve rpc")
		case <-ctx.Done():
			return shutdown(srv, served)
		case <-ticker.C:
			if s.exit.Load() {
				return shutdown(srv, served)
			}
		}
	}
}

func shutdown(srv *http.Server, served <-chan error) error {
	klog.Infof("rpc server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if serveErr := <-served; !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Wrap(serveErr, "serve rpc")
	}
	return errors.Wrap(err, "shutdown rpc")
}

// klogWriter feeds access log lines to klog.
type klogWriter struct{}

var _ io.Writer = klogWriter{}

func (klogWriter) Write(p []byte) (int, error) {
	klog.V(2).Info(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
