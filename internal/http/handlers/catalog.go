package handlers

import (
	"net/http"

	"server/internal/domain"
)

func (a *App) Catalog(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"voices":      domain.Voices,
		"backgrounds": domain.Backgrounds,
	})
}
