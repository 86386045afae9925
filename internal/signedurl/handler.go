package signedurl

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
)

// ErrNoBlobSource is returned by NewHandler when no BlobSource is wired.
var ErrNoBlobSource = errors.New("signed access handler: no blob source configured")

const defaultContentType = "application/octet-stream"

// Handler serves blobs addressed by signed references in the request
// query. Any failure to authenticate is a 403 with no detail; a valid
// reference to a missing blob is a 404.
type Handler struct {
	signer *Signer
	source BlobSource
	logger *slog.Logger
}

// NewHandler wires a Handler. Both signer and source are required.
func NewHandler(signer *Signer, source BlobSource, logger *slog.Logger) (*Handler, error) {
	if signer == nil {
		return nil, errors.New("signed access handler: signer is nil")
	}
	if source == nil {
		return nil, ErrNoBlobSource
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{signer: signer, source: source, logger: logger}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ref, err := ParseRef(r.URL.Query())
	if err == nil {
		err = h.signer.Verify(ref)
	}
	if err != nil {
		h.logger.Debug("rejected signed reference", "error", err, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	body, found, err := h.source.Open(ref.SHA256)
	if err != nil {
		h.logger.Error("opening blob", "sha256", ref.SHA256, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	defer body.Close()

	header := w.Header()
	header.Set("Content-Type", contentType(ref.Mime))
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "private, no-store")
	header.Set("ETag", `"`+ref.SHA256+`"`)
	if name := downloadName(ref.Filename); name != "" {
		if cd := mime.FormatMediaType("attachment", map[string]string{"filename": name}); cd != "" {
			header.Set("Content-Disposition", cd)
		}
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("streaming blob", "sha256", ref.SHA256, "error", err)
	}
}

// contentType accepts the mime hint only when it parses as a media type.
func contentType(hint string) string {
	if hint == "" {
		return defaultContentType
	}
	mt, params, err := mime.ParseMediaType(hint)
	if err != nil {
		return defaultContentType
	}
	return mime.FormatMediaType(mt, params)
}

// downloadName strips directories and control characters from a filename
// hint.
func downloadName(hint string) string {
	name := path.Base(strings.ReplaceAll(hint, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
}
