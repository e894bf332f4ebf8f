package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

// CustomWordsHeader optionally carries a JSON array of custom words for a relayed request
const CustomWordsHeader = "X-Veil-Custom-Words"

// handleRelay masks the request body, forwards it to the provider's upstream and
// restores placeholders in the response body using the same request's mapping.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	log := s.requestLogger(r)

	target, ok := s.upstreams[provider]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider: %s", provider))
		return
	}

	words := s.defaultCustomWords()
	if raw := r.Header.Get(CustomWordsHeader); raw != "" {
		if err := json.Unmarshal([]byte(raw), &words); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s header: %v", CustomWordsHeader, err))
			return
		}
	}

	if enc := r.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("encoded request bodies are not supported: %s", enc))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		log.Error("Failed to read request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	start := time.Now()
	masked, mappings := s.maskRelayBody(r, body, words)
	s.broadcastMasking(r, "relay", "", mappings, start)

	r.Body = io.NopCloser(bytes.NewReader(masked))
	r.ContentLength = int64(len(masked))
	r.Header.Set("Content-Length", strconv.Itoa(len(masked)))
	r.Header.Del(CustomWordsHeader)

	path := strings.TrimPrefix(r.URL.Path, "/relay/"+provider)
	if path == "" {
		path = "/"
	}

	proxy := &httputil.ReverseProxy{
		Transport: s.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = singleJoiningSlash(target.Path, path)
			req.URL.RawPath = ""
			req.Host = target.Host
			// let the transport negotiate gzip so response bodies arrive decoded
			req.Header.Del("Accept-Encoding")

			log.Debug("Relaying request",
				zap.String("provider", provider),
				zap.String("target_url", req.URL.String()),
				zap.String("method", req.Method),
			)
		},
		ModifyResponse: func(resp *http.Response) error {
			if len(mappings) == 0 || resp.Body == nil {
				return nil
			}
			if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
				log.Warn("Encoded upstream response left masked", zap.String("content_encoding", enc))
				return nil
			}

			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to read upstream response: %w", err)
			}

			restoreStart := time.Now()
			restoreWith := mappings
			if carriesJSONStrings(resp.Header.Get("Content-Type")) {
				restoreWith = jsonEscaped(mappings)
			}
			restored := s.restore(string(data), restoreWith)
			s.broadcastRestore(r, "relay", "", len(mappings), restored, restoreStart)

			resp.Body = io.NopCloser(bytes.NewReader([]byte(restored.Restored)))
			resp.ContentLength = int64(len(restored.Restored))
			resp.Header.Set("Content-Length", strconv.Itoa(len(restored.Restored)))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			log.Error("Relay error", zap.String("provider", provider), zap.Error(err))
			writeError(w, http.StatusBadGateway, "upstream request failed")
		},
	}

	proxy.ServeHTTP(w, r)

	log.Info("Request relayed",
		zap.String("provider", provider),
		zap.Int("mappings", len(mappings)),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}

// maskRelayBody masks a request body. JSON bodies are masked value by value so
// escape sequences do not hide matches; anything else is masked as plain text.
func (s *Server) maskRelayBody(r *http.Request, body []byte, words []string) ([]byte, []obfuscation.MappingEntry) {
	contentType := r.Header.Get("Content-Type")
	if isJSON(contentType) || (contentType == "" && json.Valid(body)) {
		masked, mappings, err := s.maskJSON(body, words)
		if err == nil {
			return masked, mappings
		}
		s.requestLogger(r).Warn("JSON body did not parse, masking as text", zap.Error(err))
	}

	result := s.engine.Obfuscate(string(body), words)
	return []byte(result.Obfuscated), result.Mappings
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

