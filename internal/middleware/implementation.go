package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/auth"
	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/handlers"
)

type authScheme int

const (
	authSchemeNone authScheme = iota
	authSchemeScoped
	authSchemeAdmin
	authSchemeAny
)

func injectTrace(re requestResponseStruct) requestResponseStruct {
	req := re.req
	if req == nil {
		//this is a bad request
		re.badRequest.httpCode = http.StatusBadRequest
		re.badRequest.errorMessage = "request is empty"
		re.badRequest.isBadRequest = true
		return re
	}
	trace := req.Header.Get("X-Trace-Id")
	if trace == "" {
		trace = utils.GetNewUUID()
	}
	re.logger = re.logger.With("traceId", trace)
	ctx := context.WithValue(req.Context(), config.TRACE_ID_KEY, trace)
	req.Header.Set(`X-Trace-Id`, trace)
	re.req = req.WithContext(ctx)

	return re
}

func authenticate(re requestResponseStruct, scheme authScheme) requestResponseStruct {
	if scheme == authSchemeNone {
		return re
	}
	re.logger.Debug("Authenticating request")

	schemeName, credential := pickCredential(re.req, scheme)
	if credential == "" {
		return unauthorized(re, "missing credential")
	}

	svc := handlers.AuthService()
	if svc == nil {
		return unauthorized(re, "auth not ready")
	}

	scope, err := svc.Resolve(re.req.Context(), schemeName, credential)
	if err != nil {
		re.logger.Warn("Credential rejected", "err", err)
		return unauthorized(re, "unauthorized")
	}

	// usage is stamped only after the credential fully resolves
	if err := svc.RecordUsage(re.req.Context(), scope.KeyId); err != nil {
		re.logger.Warn("Could not record key usage", "keyId", scope.KeyId, "err", err)
	}

	re.logger.Debug("Authorized", "keyId", scope.KeyId, "role", scope.Role)
	ctx := context.WithValue(re.req.Context(), config.SCOPE_KEY, scope)
	re.req = re.req.WithContext(ctx)
	return re
}

// pickCredential decides which header the route accepts. With authSchemeAny
// the admin header wins when both are present.
func pickCredential(req *http.Request, scheme authScheme) (string, string) {
	adminHeader := req.Header.Get(auth.SchemeAdmin)
	scopedHeader := req.Header.Get(auth.SchemeScoped)

	switch scheme {
	case authSchemeAdmin:
		return auth.SchemeAdmin, adminHeader
	case authSchemeScoped:
		return auth.SchemeScoped, scopedHeader
	case authSchemeAny:
		if adminHeader != "" {
			return auth.SchemeAdmin, adminHeader
		}
		return auth.SchemeScoped, scopedHeader
	}
	return "", ""
}

func unauthorized(re requestResponseStruct, message string) requestResponseStruct {
	re.badRequest.isBadRequest = true
	re.badRequest.errorMessage = message
	re.badRequest.httpCode = http.StatusUnauthorized
	return re
}

func rateLimiter(re requestResponseStruct) requestResponseStruct {
	ip, _, err := net.SplitHostPort(re.req.RemoteAddr)
	if err != nil {
		ip = re.req.RemoteAddr
	}

	if !limiterInstance.GetLimiter(ip).Allow() {
		re.logger.Error("Too many requests", "Rate Limiter exceeded", ip)
		re.badRequest = failureStruct{
			isBadRequest: true,
			httpCode:     http.StatusTooManyRequests,
			errorMessage: "Rate limit exceeded. Slow down bruh",
		}
		return re
	}
	return re
}

func handleBadRequest(re requestResponseStruct) bool {
	if re.badRequest.isBadRequest {
		re.logger.Warn("Bad request", "httpCode", re.badRequest.httpCode, "errorMessage", re.badRequest.errorMessage, "IP", re.req.RemoteAddr)
		handlers.WriteErrorResponse(re.writer, re.badRequest.httpCode, re.badRequest.id, re.badRequest.errorMessage)
		return false
	}
	return true
}
