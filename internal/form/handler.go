// Package form exposes the submission pipeline over HTTP.
package form

import (
	"context"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"formgate/internal/constants"
	"formgate/internal/logger"
	"formgate/internal/site"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/logging"
	"formgate/pkg/middleware"
)

// Processor runs one submission through the gate chain.
type Processor interface {
	Process(ctx context.Context, cfg submission.SubmissionConfig, raw submission.RawSubmission) submission.Result
}

type Options struct {
	CSRFCookie   string
	MaxBodyBytes int64
	Locale       string
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if apperrors.IsClientError(err) {
		h.Logger.InfowCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}

	status := apperrors.ToHTTPStatus(err)
	response := apperrors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	Resolver  site.Resolver
	Processor Processor
	opts      Options
}

func NewHandler(resolver site.Resolver, processor Processor, opts Options, log logger.Logger) *Handler {
	if opts.CSRFCookie == "" {
		opts.CSRFCookie = constants.DefaultCSRFCookie
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
	if !submission.SupportedLocale(opts.Locale) {
		opts.Locale = constants.DefaultLocale
	}

	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Resolver:    resolver,
		Processor:   processor,
		opts:        opts,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		// Any: the method gate answers non-POST requests itself.
		v1.Any("/forms/:site", h.Submit)
	}
}

func (h *Handler) Submit(c *gin.Context) {
	siteID := c.Param("site")
	cfg, err := h.Resolver.Resolve(siteID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Request = c.Request.WithContext(logging.WithSiteID(c.Request.Context(), cfg.SiteID))

	raw := submission.RawSubmission{
		Method:    c.Request.Method,
		Identity:  middleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
	}
	if cookie, err := c.Cookie(h.opts.CSRFCookie); err == nil {
		raw.CSRFCookie = cookie
	}

	if raw.Method == http.MethodPost {
		values, status, err := h.parseBody(c)
		if err != nil {
			h.Logger.InfowCtx(c.Request.Context(), "Unreadable form body", "error", err)
			h.respond(c, cfg, status, submission.Result{
				Message: submission.MessageFor(h.opts.Locale, submission.ReasonInvalidFormat),
				Reason:  submission.ReasonInvalidFormat,
			})
			return
		}
		raw.Fields = submission.FieldsFromValues(values)
	}

	res := h.Processor.Process(c.Request.Context(), cfg, raw)

	if res.Reason == submission.ReasonMethod {
		c.Header("Allow", http.MethodPost)
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
	h.respond(c, cfg, StatusFor(res), res)
}

// parseBody returns body fields only; query parameters never count as
// submitted fields.
func (h *Handler) parseBody(c *gin.Context) (map[string][]string, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxBodyBytes)

	var err error
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == gin.MIMEMultipartPOSTForm {
		err = c.Request.ParseMultipartForm(h.opts.MaxBodyBytes)
	} else {
		err = c.Request.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, apperrors.Wrap(err, apperrors.ErrPayloadTooLarge)
		}
		return nil, http.StatusBadRequest, apperrors.Wrap(err, apperrors.ErrValidation)
	}
	return c.Request.PostForm, http.StatusOK, nil
}

func (h *Handler) respond(c *gin.Context, cfg submission.SubmissionConfig, status int, res submission.Result) {
	if wantsJSON(c) {
		c.JSON(status, gin.H{
			"success": res.Success,
			"message": res.Message,
		})
		return
	}

	target, err := site.RedirectTarget(cfg, res)
	if err != nil {
		h.Logger.ErrorwCtx(c.Request.Context(), "Invalid redirect target", "error", err, "redirect_url", cfg.RedirectURL)
		c.JSON(status, gin.H{
			"success": res.Success,
			"message": res.Message,
		})
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

// StatusFor maps a pipeline result to the status of a JSON response.
func StatusFor(res submission.Result) int {
	if res.Success {
		return http.StatusOK
	}

	switch res.Reason {
	case submission.ReasonRateLimited:
		return http.StatusTooManyRequests
	case submission.ReasonMethod:
		return http.StatusMethodNotAllowed
	case submission.ReasonDeliveryFailed:
		return http.StatusBadGateway
	case submission.ReasonMissingRecipient, submission.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func wantsJSON(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(strings.ToLower(c.GetHeader("Accept")), gin.MIMEJSON)
}
