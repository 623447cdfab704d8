package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tetraminz/sales_coach/internal/model"
	"github.com/tetraminz/sales_coach/internal/transcript"
)

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/analyses", s.handleCreateAnalysis)
		api.GET("/analyses/:id", s.handleGetAnalysis)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleCreateAnalysis accepts a multipart upload in the "file" field, or a
// JSON body with either an audio reference inside the upload directory or
// the transcript segments themselves.
func (s *Server) handleCreateAnalysis(c *gin.Context) {
	ctx := c.Request.Context()

	var job model.AnalysisJob
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		ref, err := s.saveUpload(c)
		if err != nil {
			respondMessage(c, http.StatusBadRequest, err.Error())
			return
		}
		job = s.jobs.Start(ctx, ref)
	} else {
		var payload struct {
			AudioRef string                    `json:"audioRef"`
			Segments []model.TranscriptSegment `json:"segments"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondMessage(c, http.StatusBadRequest, "invalid payload")
			return
		}
		ref := strings.TrimSpace(payload.AudioRef)
		switch {
		case len(payload.Segments) > 0:
			segments, err := transcript.Normalize(payload.Segments)
			if err != nil {
				respondError(c, http.StatusBadRequest, err)
				return
			}
			job = s.jobs.StartSegments(ctx, segments)
		case ref != "":
			path, err := s.resolveReference(ref)
			if err != nil {
				respondError(c, http.StatusBadRequest, err)
				return
			}
			job = s.jobs.Start(ctx, path)
		default:
			respondMessage(c, http.StatusBadRequest, "audioRef or segments is required")
			return
		}
	}

	s.log.WithField("job_id", job.ID).Info("analysis accepted")
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": job.Status})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, model.ErrJobNotFound) {
		respondMessage(c, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) saveUpload(c *gin.Context) (string, error) {
	if s.opts.UploadDir == "" {
		return "", errors.New("uploads are disabled")
	}
	header, err := c.FormFile("file")
	if err != nil {
		return "", errors.New("missing audio file")
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	dst := filepath.Join(s.opts.UploadDir, name)
	if err := c.SaveUploadedFile(header, dst); err != nil {
		s.log.WithError(err).Warn("save upload failed")
		return "", errors.New("unable to store uploaded file")
	}
	return dst, nil
}

// resolveReference maps an audio reference onto a file under the upload
// directory. Relative references are taken relative to that directory.
func (s *Server) resolveReference(ref string) (string, error) {
	if s.opts.UploadDir == "" {
		return "", errors.New("audio references are disabled")
	}
	root, err := filepath.Abs(s.opts.UploadDir)
	if err != nil {
		return "", errors.New("upload directory is unavailable")
	}
	path := filepath.Clean(ref)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("audioRef must point inside the upload directory")
	}
	return path, nil
}

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
