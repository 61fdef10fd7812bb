package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

func (s *Server) upstreamURL(provider string) string {
	switch provider {
	case "openai":
		return s.config.Upstream.OpenAI
	case "anthropic":
		return s.config.Upstream.Anthropic
	case "ollama":
		return s.config.Upstream.Ollama
	}
	return ""
}

// providerHandler forwards /<provider>/... to the configured upstream. The
// request body is anonymized on the way out and the response body restored
// with the same mappings on the way back.
func (s *Server) providerHandler(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := url.Parse(s.upstreamURL(provider))
		if err != nil || target.Host == "" {
			s.logger.Error("Invalid upstream URL", zap.String("provider", provider), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "upstream not configured")
			return
		}

		r.URL.Path = strings.TrimPrefix(r.URL.Path, "/"+provider)
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		r.URL.RawPath = ""

		var res *privacy.Result
		if s.config.Privacy.Enabled && r.Body != nil {
			var ok bool
			res, ok = s.anonymizeBody(w, r)
			if !ok {
				return
			}
		}

		s.proxyRequest(w, r, target, provider, res)
	}
}

// anonymizeBody screens r.Body with the input validator and replaces it
// with its anonymized form. JSON bodies are walked structurally so keys and
// non-string values stay intact.
func (s *Server) anonymizeBody(w http.ResponseWriter, r *http.Request) (*privacy.Result, bool) {
	start := time.Now()
	reader := io.Reader(r.Body)
	if s.config.Server.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		r.Body = http.NoBody
		r.ContentLength = 0
		return nil, true
	}

	var res *privacy.Result
	if v, err := privacy.ParseJSON(body); err == nil {
		if err := s.validator.Screen(v.Strings()...); err != nil {
			writeError(w, validationStatus(err), err.Error())
			return nil, false
		}
		var out privacy.Value
		out, res = s.anonymizer.AnonymizeValue(v)
		if body, err = out.MarshalJSON(); err != nil {
			s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to encode anonymized body", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to anonymize request body")
			return nil, false
		}
	} else {
		if err := s.validator.Screen(string(body)); err != nil {
			writeError(w, validationStatus(err), err.Error())
			return nil, false
		}
		res = s.anonymizer.AnonymizeText(string(body))
		body = []byte(res.AnonymizedText)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))

	s.afterAnonymize(r, audit.OpProxy, res, start)
	return res, true
}

// proxyRequest proxies the request to the target URL
func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request, target *url.URL, provider string, res *privacy.Result) {
	var mappings []privacy.Match
	sessionID := ""
	if res != nil {
		mappings, sessionID = res.Mappings, res.SessionID
	}
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
		// The response must arrive uncompressed so it can be restored.
		req.Header.Del("Accept-Encoding")
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "case-sentinel/"+version)
		}

		log.Debug("Proxying request",
			zap.String("provider", provider),
			zap.String("target_url", req.URL.String()),
			zap.String("method", req.Method),
		)
	}

	restorer := privacy.NewRestorer(mappings)
	restored := false
	proxy.ModifyResponse = func(resp *http.Response) error {
		if len(mappings) == 0 {
			return nil
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if out, err := privacy.RestoreJSON(body, mappings); err == nil {
			body = out
		} else {
			body = []byte(restorer.Text(string(body)))
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		resp.Header.Del("Content-Encoding")
		restored = true
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.metrics.UpstreamErrors.WithLabelValues(provider).Inc()
		log.Error("Proxy error",
			zap.String("provider", provider),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}

	proxy.Transport = s.transport

	start := time.Now()
	proxy.ServeHTTP(w, r)

	if restored {
		s.afterRestore(r, sessionID, len(mappings), start)
	}
	log.Info("Request proxied",
		zap.String("provider", provider),
		zap.Int("pii_count", len(mappings)),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}
