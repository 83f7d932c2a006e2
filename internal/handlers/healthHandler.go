package handlers

import "net/http"

// HealthHandler godoc
// @Summary      Health check
// @Produce      plain
// @Success      200  {string}  string  "Knowledge base service is up"
// @Router       / [get]
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Knowledge base service is up"))
}
