package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leafcheck/leafcheckd/internal/checkin"
	"github.com/leafcheck/leafcheckd/internal/store"
)

// accountView is the API shape of an account. Credentials are write-only:
// they are accepted on create/update but never echoed back.
type accountView struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Enabled         bool          `json:"enabled"`
	NeedsAttention  bool          `json:"needs_attention"`
	CheckinTime     string        `json:"checkin_time"`
	RetryCount      int           `json:"retry_count"`
	LastCheckinDate string        `json:"last_checkin_date,omitempty"`
	LastRunAt       *time.Time    `json:"last_run_at,omitempty"`
	LastOutcome     store.Outcome `json:"last_outcome,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

func toView(a store.Account) accountView {
	v := accountView{
		ID:              a.ID,
		Name:            a.Name,
		Enabled:         a.Enabled,
		NeedsAttention:  a.NeedsAttention,
		CheckinTime:     a.CheckinTime,
		RetryCount:      a.RetryCount,
		LastCheckinDate: a.LastCheckinDate,
		LastOutcome:     a.LastOutcome,
		CreatedAt:       a.CreatedAt,
	}
	if !a.LastRunAt.IsZero() {
		t := a.LastRunAt
		v.LastRunAt = &t
	}
	return v
}

func (g *Gateway) handleListAccounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := g.st.ListAccounts(r.Context())
		if err != nil {
			g.storeError(w, "list accounts", err)
			return
		}
		views := make([]accountView, 0, len(accounts))
		for _, a := range accounts {
			views = append(views, toView(a))
		}
		respondJSON(w, http.StatusOK, views)
	}
}

func (g *Gateway) handleCreateAccount() http.HandlerFunc {
	type request struct {
		Name        string `json:"name"`
		Credentials string `json:"credentials"`
		CheckinTime string `json:"checkin_time"`
		RetryCount  int    `json:"retry_count"`
		Enabled     *bool  `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" {
			respondError(w, http.StatusBadRequest, "name is required")
			return
		}

		creds, err := checkin.ParseCredentials(req.Credentials)
		if err != nil {
			respondError(w, http.StatusBadRequest, "credentials must be a JSON object or cookie string")
			return
		}

		acct := store.Account{
			Name:        req.Name,
			Credentials: creds,
			Enabled:     req.Enabled == nil || *req.Enabled,
			CheckinTime: defaultString(req.CheckinTime, "06:30"),
			RetryCount:  defaultInt(req.RetryCount, 2),
		}
		if !validCheckinTime(acct.CheckinTime) {
			respondError(w, http.StatusBadRequest, "checkin_time must be HH:MM")
			return
		}

		created, err := g.st.CreateAccount(r.Context(), acct)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateName) {
				respondError(w, http.StatusConflict, "account name already exists")
				return
			}
			g.storeError(w, "create account", err)
			return
		}
		g.logger.Info("gateway: account created", "account", created.Name, "id", created.ID)
		respondJSON(w, http.StatusCreated, toView(created))
	}
}

func (g *Gateway) handleUpdateAccount() http.HandlerFunc {
	type request struct {
		Name        *string `json:"name"`
		Credentials *string `json:"credentials"`
		CheckinTime *string `json:"checkin_time"`
		RetryCount  *int    `json:"retry_count"`
		Enabled     *bool   `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		acct, err := g.st.GetAccount(r.Context(), id)
		if err != nil {
			g.storeError(w, "get account", err)
			return
		}

		if req.Name != nil && *req.Name != "" {
			acct.Name = *req.Name
		}
		if req.Credentials != nil && *req.Credentials != "" {
			creds, err := checkin.ParseCredentials(*req.Credentials)
			if err != nil {
				respondError(w, http.StatusBadRequest, "credentials must be a JSON object or cookie string")
				return
			}
			acct.Credentials = creds
			// Fresh credentials clear the attention flag until proven bad.
			acct.NeedsAttention = false
		}
		if req.CheckinTime != nil {
			if !validCheckinTime(*req.CheckinTime) {
				respondError(w, http.StatusBadRequest, "checkin_time must be HH:MM")
				return
			}
			acct.CheckinTime = *req.CheckinTime
		}
		if req.RetryCount != nil && *req.RetryCount >= 0 {
			acct.RetryCount = *req.RetryCount
		}
		if req.Enabled != nil {
			acct.Enabled = *req.Enabled
		}

		if err := g.st.UpdateAccount(r.Context(), acct); err != nil {
			if errors.Is(err, store.ErrDuplicateName) {
				respondError(w, http.StatusConflict, "account name already exists")
				return
			}
			g.storeError(w, "update account", err)
			return
		}
		respondJSON(w, http.StatusOK, toView(acct))
	}
}

func (g *Gateway) handleDeleteAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := g.st.DeleteAccount(r.Context(), id); err != nil {
			g.storeError(w, "delete account", err)
			return
		}
		g.logger.Info("gateway: account deleted", "id", id)
		respondJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	}
}

// storeError maps persistence errors to HTTP responses.
func (g *Gateway) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}
	g.logger.Error("gateway: storage error", "op", op, "error", err)
	respondError(w, http.StatusServiceUnavailable, "storage unavailable")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}

func validCheckinTime(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
