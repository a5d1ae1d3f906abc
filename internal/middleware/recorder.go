package middleware

import (
	"bytes"
	"net/http"
)

// recorder buffers a handler's response so the middleware can compute the
// plaintext length before committing any bytes to the real
// http.ResponseWriter — ExEF's header needs ct_len up front, so the full
// body must be known before the real response is started.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

// flushTo writes the recorded status, headers and body verbatim to w,
// used for excluded-status responses that must stay cleartext.
func (r *recorder) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range r.header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(r.body.Bytes())
}
