package handlers

import (
	"net/http"
)

func (a *App) UsageSummary(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	summary, err := a.Orch.Usage(r.Context(), userID, a.currentPlan(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}

func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Orch.Stats(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}
