package handler

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
)

const maxBodyBytes = 1 << 20

// ServeHTTP adapts plain HTTP requests to the API Gateway event shape so the
// same routes can run behind a local listener.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.EscapedPath(),
		Headers:               make(map[string]string, len(r.Header)),
		MultiValueHeaders:     make(map[string][]string, len(r.Header)),
		QueryStringParameters: make(map[string]string, len(r.URL.Query())),
	}
	for k, vs := range r.Header {
		event.Headers[k] = strings.Join(vs, ",")
		event.MultiValueHeaders[k] = vs
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			event.QueryStringParameters[k] = vs[0]
		}
	}
	if utf8.Valid(body) {
		event.Body = string(body)
	} else {
		event.Body = base64.StdEncoding.EncodeToString(body)
		event.IsBase64Encoded = true
	}

	resp, err := h.Handle(r.Context(), event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
