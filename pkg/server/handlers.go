package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/pipeline"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 1 << 20

func handleError(c *gin.Context, err error) {
	appErr := errors.MapError(err)
	body := gin.H{"error": appErr.Message}
	if appErr.Err != nil && appErr.Code < http.StatusInternalServerError {
		body["details"] = appErr.Err.Error()
	}
	c.JSON(appErr.Code, body)
}

type sessionView struct {
	ID               string                  `json:"id"`
	FileName         string                  `json:"fileName"`
	FileSize         int64                   `json:"fileSize"`
	Status           model.Status            `json:"status"`
	Stage            string                  `json:"stage,omitempty"`
	Progress         int                     `json:"progress"`
	LastError        string                  `json:"lastError,omitempty"`
	DocumentMetadata *model.DocumentMetadata `json:"documentMetadata,omitempty"`
	UploadedAt       time.Time               `json:"uploadedAt"`
	// ExtractionTime is in milliseconds.
	ExtractionTime int64 `json:"extractionTime,omitempty"`
}

func newSessionView(s model.Session) sessionView {
	return sessionView{
		ID:               s.ID,
		FileName:         s.FileName,
		FileSize:         s.FileSize,
		Status:           s.Status,
		Stage:            s.Stage,
		Progress:         s.Progress,
		LastError:        s.LastError,
		DocumentMetadata: s.Metadata,
		UploadedAt:       s.UploadedAt,
		ExtractionTime:   s.ExtractionTime.Milliseconds(),
	}
}

// handleUpload accepts a multipart "document" file and starts processing it.
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize+multipartOverhead)

	fh, err := c.FormFile("document")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleError(c, errors.NewAppError(http.StatusRequestEntityTooLarge,
				"File too large, the limit is "+humanize.IBytes(uint64(s.cfg.MaxUploadSize)), nil))
			return
		}
		handleError(c, errors.NewAppError(http.StatusBadRequest, "No file uploaded", nil))
		return
	}

	f, err := fh.Open()
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()

	sess, err := s.pipeline.StartUpload(c.Request.Context(), pipeline.Upload{
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Content:  f,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"fileName":  sess.FileName,
		"fileSize":  sess.FileSize,
		"message":   "File uploaded successfully. Processing started.",
	})
}

// handleSession reports progress without exposing the extracted text.
func (s *Server) handleSession(c *gin.Context) {
	sess, err := s.pipeline.GetSessionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(sess))
}

func (s *Server) handleSessionText(c *gin.Context) {
	id := c.Param("id")
	text, meta, err := s.pipeline.GetSessionText(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "text": text, "metadata": meta})
}

// handleExtract retries extraction of an upload whose earlier attempt failed.
func (s *Server) handleExtract(c *gin.Context) {
	id := c.Param("id")
	status, started, err := s.pipeline.StartExtraction(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "status": status, "started": started})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.pipeline.DeleteSession(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "deleted": true})
}

type sessionSummary struct {
	ID         string       `json:"id"`
	FileName   string       `json:"fileName"`
	Status     model.Status `json:"status"`
	UploadedAt time.Time    `json:"uploadedAt"`
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.pipeline.ListSessions(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	out := make([]sessionSummary, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionSummary{ID: sess.ID, FileName: sess.FileName, Status: sess.Status, UploadedAt: sess.UploadedAt}
	}
	c.JSON(http.StatusOK, gin.H{"activeSessions": len(out), "sessions": out})
}

func (s *Server) handleCleanup(c *gin.Context) {
	ctx := c.Request.Context()
	cleaned, err := s.pipeline.Cleanup(ctx, s.cfg.SessionMaxAge)
	if err != nil {
		handleError(c, err)
		return
	}
	remaining, err := s.pipeline.ListSessions(ctx)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaned": cleaned, "remaining": len(remaining)})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "sessionId is required", nil))
		return
	}

	ack, err := s.pipeline.StartAnalysis(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}

	message := "Analysis will be performed"
	if !ack.Started {
		message = "Analysis already " + strings.ReplaceAll(string(ack.Status), "_", " ")
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": ack.SessionID,
		"message":   message,
		"status":    ack.Status,
		"started":   ack.Started,
	})
}

func (s *Server) handleResults(c *gin.Context) {
	result, err := s.pipeline.GetAnalysisResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleQuestion(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
		Question  string `json:"question"`
		Language  string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Question) == "" {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "sessionId and question are required", nil))
		return
	}

	ack, err := s.pipeline.AskQuestion(c.Request.Context(), req.SessionID, req.Question, req.Language)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
