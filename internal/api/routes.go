package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/ride-window-worker/internal/queue"
	"github.com/stuartshay/ride-window-worker/internal/ride"
)

const (
	dateLayout       = "2006-01-02"
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobRequest is the body of POST /v1/jobs
type JobRequest struct {
	KeyField  string   `json:"key_field"`
	Inputs    []string `json:"inputs"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Output    string   `json:"output"`
}

// JobResponse is the public view of a job
type JobResponse struct {
	JobID        string       `json:"job_id"`
	Status       string       `json:"status"`
	KeyField     string       `json:"key_field"`
	Inputs       []string     `json:"inputs,omitempty"`
	StartDate    string       `json:"start_date,omitempty"`
	EndDate      string       `json:"end_date,omitempty"`
	QueuedAt     time.Time    `json:"queued_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Result       *ResultModel `json:"result,omitempty"`
}

// ResultModel is the public view of a completed run
type ResultModel struct {
	OutputPath       string `json:"output_path"`
	Rides            int    `json:"rides"`
	Keys             int    `json:"keys"`
	Evictions        uint64 `json:"evictions"`
	Published        bool   `json:"published"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the gin engine serving the job API, health and metrics
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/jobs", s.createJob)
	v1.GET("/jobs", s.listJobs)
	v1.GET("/jobs/:id", s.getJob)
	v1.GET("/stats", s.stats)
	v1.GET("/rides/count", s.countRides)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	if s.source != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.source.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": s.cfg.ServiceName,
				"error":   err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": s.cfg.ServiceName})
}

func (s *Server) createJob(c *gin.Context) {
	var body JobRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	req, err := s.toRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	log.Info().
		Str("key_field", req.KeyField.String()).
		Strs("inputs", req.Inputs).
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Msg("Received aggregation request")

	jobID, err := s.queue.Enqueue(req)
	if errors.Is(err, queue.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue job")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to enqueue job: " + err.Error()})
		return
	}

	job, err := s.queue.GetJob(jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, toResponse(job))
}

// toRequest validates a job body. Inputs take precedence over dates.
func (s *Server) toRequest(body JobRequest) (queue.Request, error) {
	field := s.cfg.KeyField
	if body.KeyField != "" {
		parsed, err := ride.ParseKeyField(body.KeyField)
		if err != nil {
			return queue.Request{}, err
		}
		field = parsed
	}

	req := queue.Request{KeyField: field, Output: body.Output}

	if body.Output != "" {
		if _, err := resolve(s.cfg.OutputPath, body.Output); err != nil {
			return queue.Request{}, errors.New("output: " + err.Error())
		}
	}

	if len(body.Inputs) > 0 {
		for _, name := range body.Inputs {
			if _, err := resolve(s.cfg.InputPath, name); err != nil {
				return queue.Request{}, errors.New("input " + strconv.Quote(name) + ": " + err.Error())
			}
		}
		req.Inputs = body.Inputs
		return req, nil
	}

	if body.StartDate == "" {
		return queue.Request{}, errors.New("either inputs or start_date is required")
	}
	start, end, err := parseDateRange(body.StartDate, body.EndDate)
	if err != nil {
		return queue.Request{}, err
	}

	req.StartDate = start
	req.EndDate = end
	return req, nil
}

// parseDateRange validates YYYY-MM-DD bounds; an empty end means the start day
func parseDateRange(startDate, endDate string) (string, string, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return "", "", errors.New("start_date must be YYYY-MM-DD")
	}
	end := start
	if endDate != "" {
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return "", "", errors.New("end_date must be YYYY-MM-DD")
		}
	}
	if end.Before(start) {
		return "", "", errors.New("end_date is before start_date")
	}
	return start.Format(dateLayout), end.Format(dateLayout), nil
}

// countRides previews how many rides a date-range job would read
func (s *Server) countRides(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "database source is not configured"})
		return
	}

	start, end, err := parseDateRange(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	count, err := s.source.CountRides(c.Request.Context(), start, end)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count rides")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"start_date": start, "end_date": end, "count": count})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.queue.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toResponse(job))
}

func (s *Server) listJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	jobs := s.queue.ListJobs(queue.JobStatus(c.Query("status")), limit, offset)

	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":        out,
		"limit":       limit,
		"offset":      offset,
		"total_count": len(out),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.GetStats())
}

func queryInt(c *gin.Context, name string, defaultValue int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func toResponse(job *queue.Job) JobResponse {
	resp := JobResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		KeyField:     job.Request.KeyField.String(),
		Inputs:       job.Request.Inputs,
		StartDate:    job.Request.StartDate,
		EndDate:      job.Request.EndDate,
		QueuedAt:     job.QueuedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}

	if job.Result != nil {
		resp.Result = &ResultModel{
			OutputPath:       job.Result.OutputPath,
			Rides:            job.Result.Rides,
			Keys:             job.Result.Keys,
			Evictions:        job.Result.Evictions,
			Published:        job.Result.Published,
			ProcessingTimeMS: job.Result.ProcessingTimeMS,
		}
	}

	return resp
}
