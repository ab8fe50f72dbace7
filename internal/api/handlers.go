package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

const markdownPrefix = "markdown/"

func (s *Server) uploadDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}

	extracted, err := s.extractor.Extract(raw)
	if err != nil {
		log.Printf("[API] extraction of %s failed: %v", header.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "extraction failed"})
		return
	}
	if extracted.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no text extracted from document"})
		return
	}

	name := markdownName(header.Filename)
	markdown := extract.ToMarkdown(extracted)
	if err := s.objects.Put(c.Request.Context(), markdownPrefix+name, []byte(markdown), "text/markdown"); err != nil {
		log.Printf("[API] store %s failed: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store document"})
		return
	}
	if err := s.q.CacheText(c.Request.Context(), name, extracted.Text); err != nil {
		log.Printf("[API] cache text for %s failed: %v", name, err)
	}

	c.JSON(http.StatusOK, gin.H{"filename": name})
}

// markdownName maps an uploaded filename to its derived markdown name.
func markdownName(filename string) string {
	base := path.Base(filename)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".md"
}

func (s *Server) listDocuments(c *gin.Context) {
	paths, err := s.objects.List(c.Request.Context(), markdownPrefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list documents"})
		return
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimPrefix(p, markdownPrefix))
	}
	c.JSON(http.StatusOK, gin.H{"markdowns": names})
}

func (s *Server) getDocument(c *gin.Context) {
	name := c.Param("name")
	data, err := s.objects.Get(c.Request.Context(), markdownPrefix+name)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read document"})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}

type submitRequest struct {
	PDFName  string `json:"pdf_name" binding:"required"`
	LLM      string `json:"llm" binding:"required"`
	Question string `json:"question"`
}

func (s *Server) submitSummarize(c *gin.Context) {
	s.submit(c, task.KindSummarize)
}

func (s *Server) submitQuestion(c *gin.Context) {
	s.submit(c, task.KindQA)
}

func (s *Server) submit(c *gin.Context, kind task.Kind) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	content, found := s.documentContent(c, req.PDFName)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found: " + req.PDFName})
		return
	}

	taskID, err := s.dispatcher.Submit(c.Request.Context(), kind, req.PDFName, req.LLM, content, req.Question)
	switch {
	case errors.Is(err, task.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "document is empty"})
	case errors.Is(err, task.ErrMissingQuestion):
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
	case err != nil:
		log.Printf("[API] submit failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable, retry later"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
	}
}

// documentContent loads the text to process: the extraction cache when the
// upload was recent, the stored markdown otherwise.
func (s *Server) documentContent(c *gin.Context, name string) (string, bool) {
	if text, ok, err := s.q.CachedText(c.Request.Context(), name); err == nil && ok {
		return text, true
	}
	data, err := s.objects.Get(c.Request.Context(), markdownPrefix+name)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *Server) getResult(c *gin.Context) {
	taskID := c.Param("task_id")
	text, ok, err := s.q.GetResult(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"status": task.StatusPending})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": task.StatusDone, "result": text})
}

type taskView struct {
	TaskID      string     `json:"task_id"`
	Kind        string     `json:"kind"`
	Model       string     `json:"llm"`
	DocumentRef string     `json:"pdf_name"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) listTasks(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []taskView{}})
		return
	}
	recs, err := s.hist.ListRecent(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tasks"})
		return
	}
	views := make([]taskView, 0, len(recs))
	for _, r := range recs {
		v := taskView{
			TaskID:      r.TaskID,
			Kind:        r.Kind,
			Model:       r.Model,
			DocumentRef: r.DocumentRef,
			Status:      string(r.Status),
			CreatedAt:   r.CreatedAt,
			FinishedAt:  r.FinishedAt,
		}
		if r.ErrorMsg != nil {
			v.Error = *r.ErrorMsg
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}
