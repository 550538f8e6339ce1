package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/events"
	"github.com/aristath/coinwatch/internal/hotlist"
	"github.com/aristath/coinwatch/internal/reliability"
	"github.com/aristath/coinwatch/internal/watchlist"
)

// backupTimeout allows for VACUUM INTO plus the archive upload.
const backupTimeout = 15 * time.Minute

// BackupSource runs and lists off-box database backups.
type BackupSource interface {
	Enabled() bool
	CreateAndUpload(ctx context.Context) (string, error)
	ListBackups(ctx context.Context) ([]reliability.BackupInfo, error)
}

// AdminHandlers serves the watchlist, hot list, schedule, event and backup
// management endpoints under /api.
type AdminHandlers struct {
	log       zerolog.Logger
	watchlist *watchlist.Service
	hotlist   *hotlist.Service
	schedule  *watchlist.ScheduleRepository
	bus       *events.Bus
	backups   BackupSource
}

// NewAdminHandlers creates the admin handlers.
func NewAdminHandlers(
	log zerolog.Logger,
	watchlistSvc *watchlist.Service,
	hotlistSvc *hotlist.Service,
	schedule *watchlist.ScheduleRepository,
	bus *events.Bus,
	backups BackupSource,
) *AdminHandlers {
	return &AdminHandlers{
		log:       log.With().Str("component", "admin_handlers").Logger(),
		watchlist: watchlistSvc,
		hotlist:   hotlistSvc,
		schedule:  schedule,
		bus:       bus,
		backups:   backups,
	}
}

// RegisterRoutes registers the admin management routes.
func (h *AdminHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/watchlist", func(r chi.Router) {
		r.Get("/", h.ListWatchlist)
		r.Post("/", h.AddWatch)
		r.Patch("/{coinID}", h.UpdateWatch)
		r.Delete("/{coinID}", h.RemoveWatch)
	})

	r.Route("/hotlist", func(r chi.Router) {
		r.Get("/", h.ListHotlist)
		r.Post("/", h.AddHotEntry)
		r.Delete("/{hotID}", h.RemoveHotEntry)
	})

	r.Route("/schedule", func(r chi.Router) {
		r.Get("/", h.GetSchedule)
		r.Patch("/", h.UpdateSchedule)
	})

	r.Get("/events/recent", h.RecentEvents)

	r.Route("/backup", func(r chi.Router) {
		r.Get("/", h.ListBackups)
		r.Post("/", h.TriggerBackup)
	})
}

type addWatchRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// AddWatch handles POST /api/watchlist. An omitted symbol is resolved from a
// live market snapshot.
func (h *AdminHandlers) AddWatch(w http.ResponseWriter, r *http.Request) {
	var req addWatchRequest
	if err := decodeStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Chain) == "" || strings.TrimSpace(req.Address) == "" {
		h.writeError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	coin, err := h.watchlist.AddCoin(r.Context(), req.Chain, req.Address, req.Symbol)
	if err != nil {
		h.log.Error().Err(err).Str("address", req.Address).Msg("Failed to add coin")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, coin)
}

// ListWatchlist handles GET /api/watchlist.
func (h *AdminHandlers) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	watched, err := h.watchlist.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list watchlist")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"coins": watched,
		"count": len(watched),
	})
}

// UpdateWatch handles PATCH /api/watchlist/{coinID}. Only the fields present
// in the body change; unknown fields are rejected.
func (h *AdminHandlers) UpdateWatch(w http.ResponseWriter, r *http.Request) {
	coinID, err := strconv.ParseInt(chi.URLParam(r, "coinID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid coin id")
		return
	}

	var update watchlist.ThresholdUpdate
	if err := decodeStrict(r, &update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	watch, err := h.watchlist.UpdateThresholds(coinID, update)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, watch)
}

// RemoveWatch handles DELETE /api/watchlist/{coinID}. Monitoring stops but
// the coin row and its alert history stay.
func (h *AdminHandlers) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	coinID, err := strconv.ParseInt(chi.URLParam(r, "coinID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid coin id")
		return
	}

	if err := h.watchlist.RemoveCoin(coinID); err != nil {
		h.log.Error().Err(err).Int64("coin_id", coinID).Msg("Failed to remove coin")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// AddHotEntry handles POST /api/hotlist.
func (h *AdminHandlers) AddHotEntry(w http.ResponseWriter, r *http.Request) {
	var req hotlist.AddEntryRequest
	if err := decodeStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Chain) == "" || strings.TrimSpace(req.Address) == "" {
		h.writeError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	entry, err := h.hotlist.AddEntry(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Str("address", req.Address).Msg("Failed to add hot entry")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, entry)
}

// ListHotlist handles GET /api/hotlist.
func (h *AdminHandlers) ListHotlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.hotlist.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list hot entries")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// RemoveHotEntry handles DELETE /api/hotlist/{hotID}.
func (h *AdminHandlers) RemoveHotEntry(w http.ResponseWriter, r *http.Request) {
	hotID, err := strconv.ParseInt(chi.URLParam(r, "hotID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	if err := h.hotlist.RemoveEntry(hotID); err != nil {
		h.log.Error().Err(err).Int64("hot_id", hotID).Msg("Failed to remove hot entry")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// GetSchedule handles GET /api/schedule.
func (h *AdminHandlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.schedule.Get()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load schedule config")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

type scheduleUpdate struct {
	AnchorTimesLocal    *[]string `json:"anchor_times_local"`
	AnchorPeriodHours   *int      `json:"anchor_period_hours"`
	LongCheckpointHours *int      `json:"long_checkpoint_hours"`
	HotIntervalMinutes  *int      `json:"hot_interval_minutes"`
	CooldownHours       *int      `json:"cooldown_hours"`
	RetraceOn           *bool     `json:"retrace_on"`
	StallOn             *bool     `json:"stall_on"`
	BreakoutOn          *bool     `json:"breakout_on"`
	McapOn              *bool     `json:"mcap_on"`
}

// UpdateSchedule handles PATCH /api/schedule. Flag changes apply on the next
// evaluation pass; cadence changes apply after a restart because cron entries
// are registered at startup.
func (h *AdminHandlers) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var update scheduleUpdate
	if err := decodeStrict(r, &update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.schedule.Get()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load schedule config")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if update.AnchorTimesLocal != nil {
		cfg.AnchorTimesLocal = *update.AnchorTimesLocal
	}
	if update.AnchorPeriodHours != nil {
		cfg.AnchorPeriodHours = *update.AnchorPeriodHours
	}
	if update.LongCheckpointHours != nil {
		cfg.LongCheckpointHours = *update.LongCheckpointHours
	}
	if update.HotIntervalMinutes != nil {
		cfg.HotIntervalMinutes = *update.HotIntervalMinutes
	}
	if update.CooldownHours != nil {
		cfg.CooldownHours = *update.CooldownHours
	}
	if update.RetraceOn != nil {
		cfg.RetraceOn = *update.RetraceOn
	}
	if update.StallOn != nil {
		cfg.StallOn = *update.StallOn
	}
	if update.BreakoutOn != nil {
		cfg.BreakoutOn = *update.BreakoutOn
	}
	if update.McapOn != nil {
		cfg.McapOn = *update.McapOn
	}

	if err := h.schedule.Update(cfg); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"config":           cfg,
		"restart_required": update.AnchorTimesLocal != nil || update.LongCheckpointHours != nil || update.HotIntervalMinutes != nil,
	})
}

// RecentEvents handles GET /api/events/recent, newest first. The optional
// "limit" query parameter caps the count.
func (h *AdminHandlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	recent := h.bus.Recent(limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": recent,
		"count":  len(recent),
	})
}

// TriggerBackup handles POST /api/backup. The archive build runs in the
// background because VACUUM INTO plus the upload can take minutes.
func (h *AdminHandlers) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	if !h.backups.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	h.log.Info().Msg("Manual backup triggered")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()

		key, err := h.backups.CreateAndUpload(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("Manual backup failed")
			return
		}
		h.log.Info().Str("key", key).Msg("Manual backup uploaded")
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Backup started",
	})
}

// ListBackups handles GET /api/backup.
func (h *AdminHandlers) ListBackups(w http.ResponseWriter, r *http.Request) {
	if !h.backups.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	infos, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": infos,
		"count":   len(infos),
	})
}

// writeJSON writes a JSON response
func (h *AdminHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *AdminHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
