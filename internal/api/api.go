package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onvifrelay/onvifrelay/internal/app"
	"github.com/onvifrelay/onvifrelay/pkg/secrets"
	"github.com/onvifrelay/onvifrelay/pkg/xnet"
	xtls "github.com/onvifrelay/onvifrelay/pkg/xnet/tls"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func Init() {
	var cfg struct {
		Mod struct {
			Listen        string `yaml:"listen"`
			StaticDir     string `yaml:"static_dir"`
			Origin        string `yaml:"origin"`
			TLSCert       string `yaml:"tls_cert"`
			TLSKey        string `yaml:"tls_key"`
			TLSSelfSigned bool   `yaml:"tls_self_signed"`
		} `yaml:"api"`
	}

	// default config
	cfg.Mod.Listen = ":8880"
	cfg.Mod.StaticDir = "."

	// load config from YAML
	app.LoadConfig(&cfg)

	if cfg.Mod.Listen == "" {
		return
	}

	log = app.GetLogger("api")

	HandleFunc("/", rootHandler(cfg.Mod.StaticDir))
	HandleFunc("api", apiHandler)
	HandleFunc("api/log", logHandler)
	HandleFunc("api/metrics", promhttp.Handler().ServeHTTP)

	Handler = http.DefaultServeMux // 3rd

	if cfg.Mod.Origin == "*" {
		Handler = cors.AllowAll().Handler(Handler) // 2nd
	}

	if log.Trace().Enabled() {
		Handler = middlewareLog(Handler) // 1st
	}

	tlsConfig, err := loadTLS(cfg.Mod.TLSCert, cfg.Mod.TLSKey, cfg.Mod.TLSSelfSigned)
	if err != nil {
		log.Error().Err(err).Msg("[api] tls")
	}

	if err = listen("tcp", cfg.Mod.Listen, tlsConfig); err != nil {
		log.Error().Err(err).Msg("[api] listen")
	}
}

// loadTLS - TLS when both cert and key files exist, self-signed if enabled, plain otherwise
func loadTLS(certFile, keyFile string, selfSigned bool) (*tls.Config, error) {
	if fileExists(certFile) && fileExists(keyFile) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("cert", certFile).Msg("[api] tls certificate")
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}

	if selfSigned {
		cert, err := xtls.CreateCertificate(xnet.LocalIPs()...)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("[api] tls self-signed certificate")
		return &tls.Config{Certificates: []tls.Certificate{*cert}}, nil
	}

	return nil, nil
}

func fileExists(name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(name)
	return err == nil
}

// listen binds synchronously so Port is known after Init, serving runs in background
func listen(network, address string, tlsConfig *tls.Config) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
		Scheme = "https"
	}

	log.Info().Str("addr", address).Str("scheme", Scheme).Msg("[api] listen")

	if network == "tcp" {
		Port = ln.Addr().(*net.TCPAddr).Port
	}

	server := &http.Server{
		Handler:           Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	mu.Lock()
	servers = append(servers, server)
	mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("[api] serve")
		}
	}()

	return nil
}

// Close stops all listeners and waits for active HTTP requests.
// Hijacked websocket connections are closed by their owner.
func Close(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	servers = nil

	return errors.Join(errs...)
}

var Port int
var Scheme = "http"

const (
	MimeJSON = "application/json"
	MimeText = "text/plain"
)

var Handler http.Handler

// UpgradeHandler serves websocket upgrade requests for any path not registered by API
var UpgradeHandler http.HandlerFunc

// HandleFunc handle pattern with relative path:
// - "api/devices" => "/api/devices"
// - "/"           => "/"
func HandleFunc(pattern string, handler http.HandlerFunc) {
	if len(pattern) == 0 || pattern[0] != '/' {
		pattern = "/" + pattern
	}
	log.Trace().Str("path", pattern).Msg("[api] register path")
	http.HandleFunc(pattern, handler)
}

// ResponseJSON important always add Content-Type
// so go won't need to call http.DetectContentType
func ResponseJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", MimeJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func Response(w http.ResponseWriter, body any, contentType string) {
	w.Header().Set("Content-Type", contentType)

	switch v := body.(type) {
	case []byte:
		_, _ = w.Write(v)
	case string:
		_, _ = w.Write([]byte(v))
	default:
		_, _ = fmt.Fprint(w, body)
	}
}

var log = zerolog.Nop()

var (
	servers []*http.Server
	mu      sync.Mutex
)

func middlewareLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Trace().Msgf("[api] %s %s %s", r.Method, r.URL, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// rootHandler - the legacy UI opens its websocket on the page URL itself
func rootHandler(staticDir string) http.HandlerFunc {
	static := staticHandler(staticDir)

	return func(w http.ResponseWriter, r *http.Request) {
		if UpgradeHandler != nil && websocket.IsWebSocketUpgrade(r) {
			UpgradeHandler(w, r)
			return
		}
		static(w, r)
	}
}

func apiHandler(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	app.Info["host"] = r.Host
	info := maps.Clone(app.Info)
	mu.Unlock()

	ResponseJSON(w, info)
}

func logHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		w.Header().Set("Content-Type", "application/jsonlines")
		_, _ = app.MemoryLog.WriteTo(secrets.Response(w))
	case "DELETE":
		app.MemoryLog.Reset()
		Response(w, "OK", MimeText)
	default:
		http.Error(w, "Method not allowed", http.StatusBadRequest)
	}
}
