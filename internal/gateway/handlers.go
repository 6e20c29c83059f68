package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/leafcheck/leafcheckd/internal/checkin"
	"github.com/leafcheck/leafcheckd/internal/notify"
	"github.com/leafcheck/leafcheckd/internal/scheduler"
	"github.com/leafcheck/leafcheckd/internal/store"
)

func (g *Gateway) handleManualCheckin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		record, err := g.sched.TriggerManual(r.Context(), id)
		switch {
		case errors.Is(err, scheduler.ErrBusy):
			respondError(w, http.StatusConflict, "check-in already in progress")
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "account not found")
		case err != nil:
			g.logger.Error("gateway: manual check-in failed", "id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "check-in failed: "+err.Error())
		default:
			respondJSON(w, http.StatusOK, record)
		}
	}
}

func (g *Gateway) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var accountID int64
		if raw := r.URL.Query().Get("account_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				respondError(w, http.StatusBadRequest, "invalid account_id")
				return
			}
			accountID = id
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		records, err := g.st.Records(r.Context(), accountID, limit)
		if err != nil {
			g.storeError(w, "history", err)
			return
		}
		if records == nil {
			records = []store.CheckinRecord{}
		}
		respondJSON(w, http.StatusOK, records)
	}
}

func (g *Gateway) handleDashboard() http.HandlerFunc {
	type response struct {
		TotalAccounts   int                   `json:"total_accounts"`
		EnabledAccounts int                   `json:"enabled_accounts"`
		NeedAttention   int                   `json:"need_attention"`
		TodayCheckins   []store.CheckinRecord `json:"today_checkins"`
		RecentTotal     int                   `json:"recent_total"`
		RecentSuccesses int                   `json:"recent_successes"`
		SuccessRate     float64               `json:"success_rate"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := g.st.ListAccounts(r.Context())
		if err != nil {
			g.storeError(w, "dashboard accounts", err)
			return
		}

		records, err := g.st.Records(r.Context(), 0, 100)
		if err != nil {
			g.storeError(w, "dashboard history", err)
			return
		}

		resp := response{TotalAccounts: len(accounts), TodayCheckins: []store.CheckinRecord{}}
		for _, a := range accounts {
			if a.Enabled {
				resp.EnabledAccounts++
			}
			if a.NeedsAttention {
				resp.NeedAttention++
			}
		}

		today := time.Now().In(g.cfg.Location).Format(checkin.DateLayout)
		for _, rec := range records {
			resp.RecentTotal++
			if rec.Outcome == store.OutcomeSuccess {
				resp.RecentSuccesses++
			}
			if rec.Date == today && len(resp.TodayCheckins) < 20 {
				resp.TodayCheckins = append(resp.TodayCheckins, rec)
			}
		}
		if resp.RecentTotal > 0 {
			resp.SuccessRate = float64(resp.RecentSuccesses) / float64(resp.RecentTotal) * 100
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func (g *Gateway) handleGetNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := g.st.Settings(r.Context())
		if err != nil {
			g.storeError(w, "get notification settings", err)
			return
		}
		respondJSON(w, http.StatusOK, settings)
	}
}

func (g *Gateway) handlePutNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings store.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := g.st.SaveSettings(r.Context(), settings); err != nil {
			g.storeError(w, "save notification settings", err)
			return
		}
		g.logger.Info("gateway: notification settings updated")
		respondJSON(w, http.StatusOK, map[string]string{"message": "saved"})
	}
}

func (g *Gateway) handleTestNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Channel string `json:"channel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" {
			respondError(w, http.StatusBadRequest, "channel is required")
			return
		}

		if err := g.disp.Test(r.Context(), req.Channel); err != nil {
			if errors.Is(err, notify.ErrChannelNotConfigured) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			respondError(w, http.StatusBadGateway, "test send failed: "+err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "test notification sent"})
	}
}
