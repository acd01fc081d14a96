package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/pkg/loader"
)

// ImageQuery is the query string of GET /images.
type ImageQuery struct {
	URL string `validate:"required,image_url"`
}

// ImageHandler serves images through a Loader per request.
type ImageHandler struct {
	opts         loader.Options
	allowPrivate bool
	validate     *validator.Validate
}

// NewImageHandler creates an image handler. opts is used for every Loader
// it creates.
func NewImageHandler(opts loader.Options, allowPrivateHosts bool) *ImageHandler {
	return &ImageHandler{
		opts:         opts,
		allowPrivate: allowPrivateHosts,
		validate:     NewValidator(),
	}
}

// NewValidator returns a validator with the image_url tag registered.
// image_url accepts absolute http and https URLs with a host.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("image_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
	})
	return v
}

// Get handles GET /images?url=<u>.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := ImageQuery{URL: r.URL.Query().Get("url")}
	if err := h.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "required" {
			BadRequest(w, "missing url parameter")
			return
		}
		BadRequest(w, "url must be an absolute http or https URL")
		return
	}

	if !h.allowPrivate && IsPrivateHost(q.URL) {
		BadRequest(w, "url points to a private host")
		return
	}

	l := loader.New(h.opts)
	l.SetURL(q.URL)
	state := l.Wait(r.Context())

	switch state {
	case loader.StateLoaded:
		img := l.Image()
		if img == nil {
			BadGateway(w, "empty image")
			return
		}
		w.Header().Set("Content-Type", mimetype.Detect(img.Data).String())
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(img.Data)

	case loader.StateFailed:
		err := l.Err()
		logger.InfoCtx(r.Context(), "image request failed", logger.KeyError, err.Error())
		if errors.Is(err, loader.ErrTimeout) {
			GatewayTimeout(w, "upstream timed out")
			return
		}
		if errors.Is(err, loader.ErrDecode) {
			BadGateway(w, "upstream did not return an image")
			return
		}
		BadGateway(w, "upstream fetch failed")

	default:
		l.Cancel()
		if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			GatewayTimeout(w, "request deadline exceeded")
			return
		}
		// Client went away; nothing useful to write.
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// IsPrivateHost reports whether rawURL names localhost or a literal IP in
// a loopback, private, link-local or unspecified range. Host names are not
// resolved.
func IsPrivateHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
