package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewAdminRouter serves metrics, health, jobs and providers for d.
func NewAdminRouter(d *Daemon) http.Handler {
	a := &adminAPI{daemon: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(5 * time.Minute))

	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/healthz", a.health)
	r.Get("/providers", a.listProviders)
	r.Post("/messages", a.postMessage)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", a.getJob)
			r.Delete("/", a.cancelJob)
			r.Post("/run", a.runJob)
		})
	})

	return r
}

type adminAPI struct {
	daemon *Daemon
}

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime"`
	Tools   int    `json:"tools"`
}

func (a *adminAPI) health(w http.ResponseWriter, r *http.Request) {
	status := a.daemon.Status()
	respondJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Running: status.Running,
		Uptime:  status.Uptime.Round(time.Second).String(),
		Tools:   a.daemon.toolExecutor.GetToolCount() + a.daemon.federation.Manifest().Len(),
	})
}

func (a *adminAPI) listProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.daemon.federation.Providers())
}

func (a *adminAPI) scheduler(w http.ResponseWriter) *cron.Service {
	svc := a.daemon.cronService
	if svc == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler is disabled")
	}
	return svc
}

func (a *adminAPI) listJobs(w http.ResponseWriter, r *http.Request) {
	svc := a.scheduler(w)
	if svc == nil {
		return
	}
	respondJSON(w, http.StatusOK, svc.ListJobs())
}

func (a *adminAPI) getJob(w http.ResponseWriter, r *http.Request) {
	svc := a.scheduler(w)
	if svc == nil {
		return
	}
	job, err := svc.GetJob(chi.URLParam(r, "name"))
	if err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (a *adminAPI) cancelJob(w http.ResponseWriter, r *http.Request) {
	svc := a.scheduler(w)
	if svc == nil {
		return
	}
	if err := svc.CancelJob(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminAPI) runJob(w http.ResponseWriter, r *http.Request) {
	svc := a.scheduler(w)
	if svc == nil {
		return
	}
	if err := svc.RunNow(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

type messageRequest struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// postMessage runs one turn synchronously; the reply also goes out
// through the named channel.
func (a *adminAPI) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg := channels.InboundMessage{
		Channel:   a.daemon.jobChannel(req.Channel),
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Text:      req.Text,
	}
	if err := msg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.daemon.HandleMessage(r.Context(), msg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrTurnFailed) {
			status = http.StatusBadGateway
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func respondJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cron.ErrJobNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cron.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
