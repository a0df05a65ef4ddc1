package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"go-pcg-core/internal/util"
)

const maxSanitizedBody = 1 << 20

// headers whose values are credentials or cookies, never rewritten
var opaqueHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	CSRFHeaderName:  {},
}

// Sanitize strips markup from header values, query values, JSON string fields
// and urlencoded form values. It never rejects a request; bodies that cannot be
// decoded are forwarded unchanged.
func Sanitize(sanitizer *util.MarkupSanitizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, values := range r.Header {
				if _, skip := opaqueHeaders[name]; skip {
					continue
				}
				for i, value := range values {
					values[i] = sanitizer.String(value)
				}
			}

			if r.URL.RawQuery != "" {
				if query, err := url.ParseQuery(r.URL.RawQuery); err == nil {
					r.URL.RawQuery = sanitizeValues(sanitizer, query).Encode()
				}
			}

			if r.Body != nil && r.Body != http.NoBody && !isSafeMethod(r.Method) {
				sanitizeBody(sanitizer, r)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sanitizeBody(sanitizer *util.MarkupSanitizer, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return
	}
	if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
		return
	}

	original := r.Body
	raw, err := io.ReadAll(io.LimitReader(original, maxSanitizedBody+1))
	if err != nil || len(raw) > maxSanitizedBody {
		// oversized or unreadable bodies are forwarded untouched
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), original), original}
		return
	}
	_ = original.Close()

	cleaned := raw
	switch mediaType {
	case "application/json":
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var payload any
		if err := decoder.Decode(&payload); err == nil {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(sanitizer.Value(payload)); err == nil {
				cleaned = buf.Bytes()
			}
		}
	case "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(raw)); err == nil {
			cleaned = []byte(sanitizeValues(sanitizer, form).Encode())
		}
	}

	replaceBody(r, cleaned)
}

func replaceBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

func sanitizeValues(sanitizer *util.MarkupSanitizer, values url.Values) url.Values {
	for key, list := range values {
		if sanitizer.Exempt(key) {
			continue
		}
		for i, value := range list {
			list[i] = sanitizer.String(value)
		}
	}
	return values
}
