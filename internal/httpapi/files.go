package httpapi

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	previewCacheControl   = "no-cache, no-store, must-revalidate"
	thumbnailCacheControl = "public, max-age=3600"
)

// fileHandler serves a cached artifact or thumbnail by file name. The ETag is
// derived from modification time and size; content type is sniffed since
// every artifact is stored under a .png name regardless of its format.
func fileHandler(svc Service, cacheControl string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "file")
		path, err := svc.Lookup(name)
		if err != nil {
			status := statusFor(err)
			msg := "file not found"
			if status == http.StatusBadRequest {
				msg = "invalid file name"
			}
			writeJSONError(w, status, msg)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "file not found")
			return
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil || fi.IsDir() {
			writeJSONError(w, http.StatusNotFound, "file not found")
			return
		}
		h := w.Header()
		h.Set("ETag", `"`+strconv.FormatInt(fi.ModTime().UnixNano(), 10)+"-"+strconv.FormatInt(fi.Size(), 10)+`"`)
		h.Set("Cache-Control", cacheControl)
		// ServeContent answers If-None-Match with 304 and sniffs Content-Type.
		http.ServeContent(w, r, "", fi.ModTime(), f)
	}
}
