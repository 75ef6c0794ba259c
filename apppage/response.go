package apppage

import (
	"net/http"
	"strconv"
)

const htmlContentType = "text/html; charset=utf-8"

// response finishes an http.ResponseWriter at most once.
type response struct {
	w        http.ResponseWriter
	finished bool
}

// finish writes status and body unless the response is already finished. It
// reports whether it wrote.
func (r *response) finish(status int, body []byte) bool {
	if r.finished {
		return false
	}
	r.finished = true

	h := r.w.Header()
	h.Set("Content-Type", htmlContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	r.w.WriteHeader(status)
	_, _ = r.w.Write(body)
	return true
}

// flush pushes buffered output to the client, if the writer allows it.
func (r *response) flush() {
	_ = http.NewResponseController(r.w).Flush()
}
