package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"training-backend/internal/core"
	"training-backend/internal/core/types"
	"training-backend/internal/export"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"
	"training-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadFileBytes = 64 << 20

type BackendService struct {
	metrics    *core.MetricStore
	periods    *core.PeriodStore
	activities *core.ActivityService
	training   *core.TrainingService
}

func NewBackendService(db *gorm.DB, storage storage.Provider, bucket string, publisher messaging.Publisher, backfiller *core.Backfiller) *BackendService {
	metricStore := core.NewMetricStore(db)
	activities := core.NewActivityService(db, storage, bucket, publisher)
	return &BackendService{
		metrics:    metricStore,
		periods:    core.NewPeriodStore(db),
		activities: activities,
		training:   core.NewTrainingService(db, metricStore, activities, backfiller, publisher),
	}
}

// NewHandler serves the api. Every route except health and the auth routes
// requires a session.
func NewHandler(auth *AuthService, backend *BackendService) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	auth.AddRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		backend.AddRoutes(r)
	})
	return r
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Route("/training", func(r chi.Router) {
		r.Post("/metric", RestHandlerWithStatus(http.StatusCreated, s.CreateMetric))
		r.Post("/metric/values", RestHandler(s.ComputeValues))
		r.Get("/metric/{metric_id}/values", RestHandler(s.GetMetricValues))
		r.Patch("/metric/{metric_id}", RestHandlerWithStatus(http.StatusNoContent, s.UpdateMetric))
		r.Delete("/metric/{metric_id}", RestHandlerWithStatus(http.StatusNoContent, s.DeleteMetric))

		r.Get("/metrics", RestHandler(s.ListMetrics))
		r.Get("/metrics/ordering", RestHandler(s.GetOrdering))
		r.Post("/metrics/ordering", RestHandlerWithStatus(http.StatusNoContent, s.SetOrdering))
		r.Get("/metrics/export", s.ExportMetrics)

		r.Post("/period", RestHandlerWithStatus(http.StatusCreated, s.CreatePeriod))
		r.Get("/periods", RestHandler(s.ListPeriods))
		r.Get("/period/{period_id}", RestHandler(s.GetPeriod))
		r.Delete("/period/{period_id}", RestHandlerWithStatus(http.StatusNoContent, s.DeletePeriod))
	})

	r.Post("/activity", RestHandler(s.UploadActivities))
	r.Get("/activities", RestHandler(s.ListActivities))
	r.Patch("/activity/{activity_id}", RestHandlerWithStatus(http.StatusNoContent, s.UpdateActivity))
	r.Delete("/activity/{activity_id}", RestHandlerWithStatus(http.StatusNoContent, s.DeleteActivity))
}

// coreError maps the errors of the core services to status codes.
func coreError(err error, msg string) error {
	switch {
	case errors.Is(err, core.ErrMetricNotFound),
		errors.Is(err, core.ErrPeriodNotFound),
		errors.Is(err, core.ErrActivityNotFound):
		return CodedError(http.StatusNotFound, err)

	case errors.Is(err, core.ErrInvalidScopeChange),
		errors.Is(err, core.ErrEmptyUpdate),
		errors.Is(err, core.ErrDuplicateMetricIds),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrInvalidActivity),
		errors.Is(err, types.ErrEmptyFilter),
		errors.Is(err, types.ErrRedundantGrouping),
		errors.Is(err, types.ErrBlankName):
		return CodedError(http.StatusBadRequest, err)
	}

	slog.Error(msg, "error", err)
	return CodedErrorf(http.StatusInternalServerError, "%s", msg)
}

func (s *BackendService) CreateMetric(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.CreateMetricRequest](r)
	if err != nil {
		return nil, err
	}

	def, err := parseDefinition(req.Source, req.Granularity, req.Aggregate, req.Filters, req.GroupBy)
	if err != nil {
		return nil, err
	}
	scope, err := parseScope(req.Scope)
	if err != nil {
		return nil, err
	}

	id, err := s.training.CreateMetric(r.Context(), core.NewMetric{UserId: userId, Name: req.Name, Definition: def, Scope: scope})
	if err != nil {
		return nil, coreError(err, "error creating training metric")
	}

	return api.CreateMetricResponse{Id: id}, nil
}

func (s *BackendService) ComputeValues(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.ComputeValuesRequest](r)
	if err != nil {
		return nil, err
	}

	def, err := parseDefinition(req.Source, req.Granularity, req.Aggregate, req.Filters, req.GroupBy)
	if err != nil {
		return nil, err
	}
	end := ""
	if req.End != nil {
		end = *req.End
	}
	start, stop, err := parseRange(req.Start, end)
	if err != nil {
		return nil, err
	}

	values, err := s.training.ComputeValues(r.Context(), userId, def, start, stop)
	if err != nil {
		return nil, coreError(err, "error computing training metric values")
	}

	return api.ComputeValuesResponse{Values: convertValues(values)}, nil
}

// queryScope resolves the optional trainingPeriodId of a metrics query.
func (s *BackendService) queryScope(r *http.Request, userId uuid.UUID, periodId string) (types.MetricScope, error) {
	id, err := parseOptionalUUID(periodId)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return types.GlobalScope{}, nil
	}
	if _, err := s.periods.Get(r.Context(), userId, *id); err != nil {
		return nil, coreError(err, "error getting training period")
	}
	return types.PeriodScope{PeriodId: *id}, nil
}

func (s *BackendService) listMetrics(r *http.Request) ([]core.MetricWithValues, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.MetricsQuery](r)
	if err != nil {
		return nil, err
	}

	start, end, err := parseRange(params.Start, params.End)
	if err != nil {
		return nil, err
	}

	scope, err := s.queryScope(r, userId, params.TrainingPeriodId)
	if err != nil {
		return nil, err
	}

	results, err := s.training.ListWithValues(r.Context(), userId, scope, start, end)
	if err != nil {
		return nil, coreError(err, "error listing training metrics")
	}
	return results, nil
}

func (s *BackendService) ListMetrics(r *http.Request) (any, error) {
	results, err := s.listMetrics(r)
	if err != nil {
		return nil, err
	}
	return convertMetrics(results), nil
}

func (s *BackendService) ExportMetrics(w http.ResponseWriter, r *http.Request) {
	results, err := s.listMetrics(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := export.MarshalParquet(results)
	if err != nil {
		writeError(w, CodedError(http.StatusInternalServerError, fmt.Errorf("error exporting training metrics: %w", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="training_metrics.parquet"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing parquet export", "error", err)
	}
}

func (s *BackendService) GetMetricValues(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	metricId, err := URLParamUUID(r, "metric_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.MetricsQuery](r)
	if err != nil {
		return nil, err
	}
	start, end, err := parseRange(params.Start, params.End)
	if err != nil {
		return nil, err
	}

	metric, values, err := s.training.MetricValues(r.Context(), userId, metricId, start, end)
	if err != nil {
		return nil, coreError(err, "error computing training metric values")
	}

	return convertMetric(core.MetricWithValues{Metric: metric, Values: values}), nil
}

func (s *BackendService) UpdateMetric(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	metricId, err := URLParamUUID(r, "metric_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateMetricRequest](r)
	if err != nil {
		return nil, err
	}

	update := core.MetricUpdate{Name: req.Name}
	if req.Scope != nil {
		if update.Scope, err = parseScope(req.Scope); err != nil {
			return nil, err
		}
	}

	if err := s.metrics.Update(r.Context(), userId, metricId, update); err != nil {
		return nil, coreError(err, "error updating training metric")
	}
	return nil, nil
}

func (s *BackendService) DeleteMetric(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	metricId, err := URLParamUUID(r, "metric_id")
	if err != nil {
		return nil, err
	}

	if err := s.metrics.Delete(r.Context(), userId, metricId); err != nil {
		return nil, coreError(err, "error deleting training metric")
	}
	return nil, nil
}

func (s *BackendService) GetOrdering(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.OrderingQuery](r)
	if err != nil {
		return nil, err
	}

	periodId, err := parseOptionalUUID(params.TrainingPeriodId)
	if err != nil {
		return nil, err
	}
	scope, err := parseScope(&api.MetricScope{Type: params.Type, TrainingPeriodId: periodId})
	if err != nil {
		return nil, err
	}

	ids, err := s.metrics.GetOrdering(r.Context(), userId, scope)
	if err != nil {
		return nil, coreError(err, "error getting training metrics ordering")
	}
	return api.MetricOrdering{MetricIds: ids}, nil
}

func (s *BackendService) SetOrdering(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SetOrderingRequest](r)
	if err != nil {
		return nil, err
	}

	scope, err := parseScope(&api.MetricScope{Type: req.Type, TrainingPeriodId: req.TrainingPeriodId})
	if err != nil {
		return nil, err
	}

	if err := s.metrics.SetOrdering(r.Context(), userId, scope, req.MetricIds); err != nil {
		return nil, coreError(err, "error saving training metrics ordering")
	}
	return nil, nil
}

func (s *BackendService) CreatePeriod(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.CreatePeriodRequest](r)
	if err != nil {
		return nil, err
	}

	period := types.TrainingPeriod{Name: req.Name}
	if period.Start, err = parseTime(req.Start); err != nil {
		return nil, badRequest(err)
	}
	if req.End != nil {
		end, err := parseTime(*req.End)
		if err != nil {
			return nil, badRequest(err)
		}
		period.End = &end
	}
	if period.Sports, err = parseSportFilters(req.Sports); err != nil {
		return nil, err
	}
	if req.Note != nil {
		period.Note = *req.Note
	}

	id, err := s.periods.Create(r.Context(), userId, period)
	if err != nil {
		return nil, coreError(err, "error creating training period")
	}
	return api.CreatePeriodResponse{Id: id}, nil
}

func (s *BackendService) ListPeriods(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	periods, err := s.periods.List(r.Context(), userId)
	if err != nil {
		return nil, coreError(err, "error listing training periods")
	}
	return convertPeriods(periods), nil
}

func (s *BackendService) GetPeriod(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	periodId, err := URLParamUUID(r, "period_id")
	if err != nil {
		return nil, err
	}

	period, err := s.periods.Get(r.Context(), userId, periodId)
	if err != nil {
		return nil, coreError(err, "error getting training period")
	}

	activities, err := s.activities.ListInPeriod(r.Context(), userId, period)
	if err != nil {
		return nil, coreError(err, "error listing period activities")
	}

	return convertPeriodDetails(period, activities), nil
}

func (s *BackendService) DeletePeriod(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	periodId, err := URLParamUUID(r, "period_id")
	if err != nil {
		return nil, err
	}

	if err := s.periods.Delete(r.Context(), userId, periodId); err != nil {
		return nil, coreError(err, "error deleting training period")
	}
	return nil, nil
}

// readUploadedFiles reads every "files" part of the multipart body. A part
// that cannot be read is kept with its error so that it is reported.
func readUploadedFiles(r *http.Request) ([]core.UploadedFile, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "expected a multipart request: %v", err)
	}

	var files []core.UploadedFile
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "error reading multipart request: %v", err)
		}

		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}

		file := core.UploadedFile{Name: part.FileName()}
		data, err := io.ReadAll(io.LimitReader(part, maxUploadFileBytes+1))
		switch {
		case err != nil:
			file.ReadErr = err
		case len(data) > maxUploadFileBytes:
			file.ReadErr = fmt.Errorf("file exceeds %d bytes", maxUploadFileBytes)
		default:
			file.Data = data
		}
		part.Close()

		files = append(files, file)
	}

	return files, nil
}

func (s *BackendService) UploadActivities(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	files, err := readUploadedFiles(r)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no files provided")
	}

	result, err := s.activities.Upload(r.Context(), userId, files)
	if err != nil {
		return nil, coreError(err, "error uploading activities")
	}

	res := api.UploadActivitiesResponse{
		CreatedIds:         result.CreatedIds,
		UnprocessableFiles: make([][2]string, 0, len(result.Unprocessed)),
	}
	for _, f := range result.Unprocessed {
		res.UnprocessableFiles = append(res.UnprocessableFiles, [2]string{f.Name, f.Reason})
	}
	return res, nil
}

func (s *BackendService) ListActivities(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	activities, err := s.activities.List(r.Context(), userId)
	if err != nil {
		return nil, coreError(err, "error listing activities")
	}
	return convertActivities(activities), nil
}

func (s *BackendService) UpdateActivity(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	activityId, err := URLParamUUID(r, "activity_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateActivityRequest](r)
	if err != nil {
		return nil, err
	}

	update := core.ActivityUpdate{Name: req.Name}
	update.Rpe, update.ClearRpe = nullableField(req.Rpe)
	update.WorkoutType, update.ClearWorkoutType = nullableField(req.WorkoutType)
	update.BonkStatus, update.ClearBonkStatus = nullableField(req.BonkStatus)

	if err := s.activities.Update(r.Context(), userId, activityId, update); err != nil {
		return nil, coreError(err, "error updating activity")
	}
	return nil, nil
}

func (s *BackendService) DeleteActivity(r *http.Request) (any, error) {
	userId, err := UserId(r)
	if err != nil {
		return nil, err
	}

	activityId, err := URLParamUUID(r, "activity_id")
	if err != nil {
		return nil, err
	}

	if err := s.activities.Delete(r.Context(), userId, activityId); err != nil {
		return nil, coreError(err, "error deleting activity")
	}
	return nil, nil
}
