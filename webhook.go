package wpbot

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookServer 接收消息网关(Twilio)的 webhook 并同步返回回复
type WebhookServer struct {
	logger          *zap.Logger
	handler         MessageHandler
	metrics         http.Handler
	addr            string
	path            string
	shutdownTimeout time.Duration
}

// NewWebhookServer 创建 webhook 服务, metricsHandler 为 nil 时不暴露 /metrics
func NewWebhookServer(logger *zap.Logger, cfg *Config, handler MessageHandler, metricsHandler http.Handler) *WebhookServer {
	return &WebhookServer{
		logger:          logger.Named("Webhook"),
		handler:         handler,
		metrics:         metricsHandler,
		addr:            cfg.Listen,
		path:            cfg.WebhookPath,
		shutdownTimeout: 10 * time.Second,
	}
}

// Router 返回挂好所有路由的 chi mux
func (s *WebhookServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Post(s.path, s.handleMessage)
	// Twilio 也可以配置成用 GET 回调, 参数在 query 里
	r.Get(s.path, s.handleMessage)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	return r
}

// Run 监听并提供服务, ctx 结束时优雅关闭
func (s *WebhookServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webhook: listen failed: %w", err)
	}

	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook listening", zap.String("Addr", ln.Addr().String()), zap.String("Path", s.path))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("webhook shutting down")
	return server.Shutdown(shutdownCtx)
}

func (s *WebhookServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func (s *WebhookServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isJSON := mediaType == "application/json"

	var sender, text string
	if isJSON {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if !gjson.ValidBytes(body) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		sender = firstString(gjson.GetManyBytes(body, "from", "sender"))
		text = firstString(gjson.GetManyBytes(body, "body", "message"))
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		sender = r.Form.Get("From")
		text = r.Form.Get("Body")
	}

	if sender == "" {
		s.logger.Warn("webhook without sender", zap.String("RequestID", requestID))
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}

	start := time.Now()
	reply := s.handler.Handle(r.Context(), sender, text)
	s.logger.Debug("webhook handled",
		zap.String("RequestID", requestID),
		zap.String("UserID", sender),
		zap.Duration("Elapsed", time.Since(start)),
	)

	if isJSON {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": reply})
		return
	}

	out, err := xml.Marshal(twimlResponse{Message: reply})
	if err != nil {
		s.logger.Error("encoding twiml failed", zap.String("RequestID", requestID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func firstString(results []gjson.Result) string {
	for _, r := range results {
		if r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
