package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/models"
	"github.com/kdimtricp/modcheck/internal/moderation"
)

const (
	maxRequestBody = 64 << 10
	maxListLimit   = 100
)

type Moderator interface {
	Submit(ctx context.Context, req moderation.Request) (*moderation.Outcome, error)
	Dispatch(ctx context.Context, req moderation.Request) (*moderation.Job, error)
}

type RecordReader interface {
	Get(ctx context.Context, objectID string) (*models.ModerationRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ModerationRecord, error)
}

type App struct {
	Moderator Moderator
	Records   RecordReader
	Logger    *slog.Logger
}

func (app *App) logger() *slog.Logger {
	if app.Logger == nil {
		return slog.Default()
	}
	return app.Logger
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// ModerateHandler runs a job and answers with the persisted record. With
// ?wait=false it answers right after dispatch with the record as first
// written. Every failure is a 500.
func (app *App) ModerateHandler(w http.ResponseWriter, r *http.Request) {
	log := app.logger().With("request_id", middleware.GetReqID(r.Context()))

	var req moderation.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("failed to decode request body: %v: %w", err, moderation.ErrInvalidInput)
		app.failModeration(w, log, err)
		return
	}

	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			app.failModeration(w, log, fmt.Errorf("invalid wait parameter %q: %w", v, moderation.ErrInvalidInput))
			return
		}
		wait = parsed
	}

	if !wait {
		job, err := app.Moderator.Dispatch(r.Context(), req)
		if err != nil {
			app.failModeration(w, log, err)
			return
		}
		record := job.Record
		select {
		case <-job.Done():
			if out, err := job.Wait(r.Context()); err == nil {
				record = out.Record
			}
		default:
		}
		log.Info("moderation dispatched", "object", job.ObjectID, "job_id", job.JobID)
		writeSuccess(w, "Accepted", record)
		return
	}

	out, err := app.Moderator.Submit(r.Context(), req)
	if err != nil {
		app.failModeration(w, log, err)
		return
	}

	if out.BudgetExceeded {
		writeSuccess(w, "Job still in progress", out.Record)
		return
	}
	writeSuccess(w, "Success", out.Record)
}

func (app *App) failModeration(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := moderation.ErrorKind(err)
	log.Error("moderation failed", "kind", kind, "error", err)
	writeError(w, http.StatusInternalServerError, err, kind)
}

func (app *App) GetRecordHandler(w http.ResponseWriter, r *http.Request) {
	objectID := chi.URLParam(r, "*")
	if objectID == "" {
		writeError(w, http.StatusBadRequest, errors.New("object id is required"), "InvalidInput")
		return
	}

	record, err := app.Records.Get(r.Context(), objectID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, err, "NotFound")
			return
		}
		app.logger().Error("failed to get record", "object", objectID, "error", err)
		writeError(w, http.StatusInternalServerError, err, moderation.ErrorKind(err))
		return
	}
	writeSuccess(w, "Success", record)
}

func (app *App) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := database.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxListLimit), "InvalidInput")
			return
		}
		limit = n
	}

	records, err := app.Records.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		app.logger().Error("failed to list records", "owner", userID, "error", err)
		writeError(w, http.StatusInternalServerError, err, moderation.ErrorKind(err))
		return
	}
	if records == nil {
		records = []models.ModerationRecord{}
	}
	writeSuccess(w, "Success", records)
}
