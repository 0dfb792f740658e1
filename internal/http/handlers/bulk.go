package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"talkstudio/internal/middleware"
	"talkstudio/internal/packager"
	"talkstudio/internal/workbook"
)

const (
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	templateFileName = "talkstudio_bulk_template.xlsx"
)

// BulkTemplate serves the blank workbook with example rows.
func (a *App) BulkTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := workbook.Template()
	if err != nil {
		a.failErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+templateFileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SubmitBulkJob validates the uploaded workbook and queues a job for it.
// Any workbook issue rejects the whole file.
func (a *App) SubmitBulkJob(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.MaxUploadBytes {
		a.fail(w, r, http.StatusRequestEntityTooLarge, "file_too_large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}
		a.fail(w, r, http.StatusBadRequest, "missing_file")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, "missing_file")
		return
	}

	records, err := workbook.Ingest(data)
	if err != nil {
		var vf *workbook.ValidationFailure
		if errors.As(err, &vf) {
			locale := middleware.LocaleFromContext(r.Context())
			a.json(w, http.StatusBadRequest, map[string]errorBody{"error": {
				Code:    "invalid_workbook",
				Message: message(locale, "invalid_workbook"),
				Issues:  vf.Localized(locale),
			}})
			return
		}
		a.failErr(w, r, err)
		return
	}

	job, err := a.Bulk.Submit(r.Context(), header.Filename, records)
	if err != nil {
		a.failErr(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"jobId":      job.ID,
		"status":     job.Status,
		"totalCount": job.TotalCount(),
	})
}

func (a *App) BulkJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.Bulk.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.failErr(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

// DownloadBulkJob streams the result archive of a finished job.
func (a *App) DownloadBulkJob(w http.ResponseWriter, r *http.Request) {
	data, job, err := a.Bulk.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.failErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+packager.FileName(job)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) CancelBulkJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Bulk.Cancel(r.Context(), id); err != nil {
		a.failErr(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"jobId": id, "cancelRequested": true})
}

func (a *App) ResumeBulkJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Bulk.Resume(r.Context(), id); err != nil {
		a.failErr(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"jobId": id, "cancelRequested": false})
}

func (a *App) DeleteBulkJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Bulk.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.failErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
