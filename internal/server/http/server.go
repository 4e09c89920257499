package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rzbill/oplogd/internal/runtime"
	"github.com/rzbill/oplogd/internal/server/http/controllers"
	"github.com/rzbill/oplogd/pkg/log"
)

type Server struct {
	rt  *runtime.Runtime
	lg  log.Logger
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime, lg log.Logger) *Server {
	if lg == nil {
		lg = log.NewNopLogger()
	}
	lg = lg.WithComponent("http")
	router := mux.NewRouter()
	s := &Server{rt: rt, lg: lg}
	router.Use(cors, s.observe)
	controllers.NewControllerRegistry(rt, lg).RegisterAllRoutes(router)
	router.Handle("/metrics", rt.Metrics().Handler()).Methods(http.MethodGet)
	s.srv = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.lg.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records request latency by route template and logs at debug.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.rt.Metrics().ObserveRequest(r.Method, route, rec.status, elapsed)
		s.lg.Debug("http request",
			log.Str("method", r.Method),
			log.Str("route", route),
			log.Int("status", rec.status),
			log.Duration("elapsed", elapsed),
		)
	})
}
