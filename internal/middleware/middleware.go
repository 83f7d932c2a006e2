package middleware

import (
	"net/http"
	"strconv"

	"github.com/akolanti/kbAPI/internal/handlers"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

type requestResponseStruct struct {
	writer     http.ResponseWriter
	req        *http.Request
	badRequest failureStruct
	logger     *logger_i.Logger
}

type failureStruct struct {
	isBadRequest bool
	httpCode     int
	errorMessage string
	id           string
}

// open surface
var HealthHandler = wrapOpen(handlers.HealthHandler)

// scoped keys (tenant bound); creation binds the kb to the caller's tenant
var CreateKbHandler = WrapScoped(handlers.CreateKbHandler)

// knowledge base management is open to admin keys too - admins see all
// tenants, scoped keys only their own
var ListKbHandler = wrap(handlers.ListKbHandler, authSchemeAny)
var GetKbHandler = wrap(handlers.GetKbHandler, authSchemeAny)
var DeleteKbHandler = wrap(handlers.DeleteKbHandler, authSchemeAny)

var UploadDocumentHandler = WrapScoped(handlers.UploadDocumentHandler)
var ListDocumentsHandler = WrapScoped(handlers.ListDocumentsHandler)
var GetDocumentHandler = WrapScoped(handlers.GetDocumentHandler)
var DeleteDocumentHandler = WrapScoped(handlers.DeleteDocumentHandler)
var RetryDocumentHandler = WrapScoped(handlers.RetryDocumentHandler)
var QueryHandler = WrapScoped(handlers.QueryHandler)

// either key kind; the handler scopes the result by tenant
var GetJobHandler = wrap(handlers.GetJobHandler, authSchemeAny)

// admin keys only
var CreateApiKeyHandler = WrapAdmin(handlers.CreateApiKeyHandler)
var ListApiKeysHandler = WrapAdmin(handlers.ListApiKeysHandler)
var DeactivateApiKeyHandler = WrapAdmin(handlers.DeactivateApiKeyHandler)
var DeleteApiKeyHandler = WrapAdmin(handlers.DeleteApiKeyHandler)
var ListDeadLettersHandler = WrapAdmin(handlers.ListDeadLettersHandler)

// WrapScoped runs the chain with API-Key authentication.
func WrapScoped(next http.HandlerFunc) http.HandlerFunc {
	return wrap(next, authSchemeScoped)
}

// WrapAdmin runs the chain with Admin-Key authentication.
func WrapAdmin(next http.HandlerFunc) http.HandlerFunc {
	return wrap(next, authSchemeAdmin)
}

func wrapOpen(next http.HandlerFunc) http.HandlerFunc {
	return wrap(next, authSchemeNone)
}

func wrap(next http.HandlerFunc, scheme authScheme) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &metrics.HttpStatusRecorder{ResponseWriter: w, Status: 200} //metrics
		re := processRequest(requestResponseStruct{req: r, writer: rec}, scheme)

		if re.badRequest.isBadRequest {
			handleBadRequest(re)
			return
		}
		next(rec, re.req)

		metrics.HttpRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.Status)).Inc() //metrics
	}
}

func processRequest(re requestResponseStruct, scheme authScheme) requestResponseStruct {
	re.logger = logger_i.NewLogger("middleware")
	re.logger.Debug("New request received")
	re = injectTrace(re)
	re = rateLimiter(re)
	if re.badRequest.isBadRequest {
		return re
	}
	re = authenticate(re, scheme)
	return re
}
