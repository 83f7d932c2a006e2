package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

// CreateApiKeyHandler godoc
// @Summary      Create an API key
// @Description  Mints a key and returns the plaintext credential exactly once. Admin only.
// @Tags         API Keys
// @Accept       json
// @Produce      json
// @Param        request  body      api.CreateApiKeyRequest  true  "Key name, role (admin or scoped) and tenant for scoped keys"
// @Success      201      {object}  api.CreatedApiKeyResponse
// @Failure      400      {object}  api.ErrorResponse
// @Security     AdminKey
// @Router       /apikeys [post]
func CreateApiKeyHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	var req api.CreateApiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "", "name and role are required")
		return
	}
	defer r.Body.Close()

	key, credential, err := handlerInstance.auth.CreateKey(r.Context(), req.Name, kbModel.KeyRole(req.Role), req.TenantId)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", err.Error())
		return
	}
	writeJsonResponse(w, http.StatusCreated, adapter.ToCreatedApiKeyResponse(key, credential))
}

// ListApiKeysHandler godoc
// @Summary      List API keys
// @Description  Lists every key without secret material. Admin only.
// @Tags         API Keys
// @Produce      json
// @Success      200  {array}  api.ApiKeyResponse
// @Security     AdminKey
// @Router       /apikeys [get]
func ListApiKeysHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	keys, err := handlerInstance.auth.ListKeys(r.Context())
	if err != nil {
		writeDomainError(w, "", err)
		return
	}
	out := make([]api.ApiKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, adapter.ToApiKeyResponse(key))
	}
	writeJsonResponse(w, http.StatusOK, out)
}

// DeactivateApiKeyHandler godoc
// @Summary      Deactivate an API key
// @Description  The key stops resolving immediately but its record stays for audit. Admin only.
// @Tags         API Keys
// @Produce      json
// @Param        id   path  string  true  "Key ID"
// @Success      204  "Deactivated"
// @Failure      404  {object}  api.ErrorResponse
// @Security     AdminKey
// @Router       /apikeys/{id}/deactivate [post]
func DeactivateApiKeyHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	keyId := utils.GetChiURLParam(r, "id")
	if err := handlerInstance.auth.DeactivateKey(r.Context(), keyId); err != nil {
		writeDomainError(w, keyId, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteApiKeyHandler godoc
// @Summary      Delete an API key
// @Tags         API Keys
// @Produce      json
// @Param        id   path  string  true  "Key ID"
// @Success      204  "Deleted"
// @Failure      404  {object}  api.ErrorResponse
// @Security     AdminKey
// @Router       /apikeys/{id} [delete]
func DeleteApiKeyHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	keyId := utils.GetChiURLParam(r, "id")
	if err := handlerInstance.auth.DeleteKey(r.Context(), keyId); err != nil {
		writeDomainError(w, keyId, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
