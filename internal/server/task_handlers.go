package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"ingest/internal/controller"
	"ingest/internal/database"

	"github.com/gin-gonic/gin"
)

// UploadResponse is sent before processing begins
type UploadResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

// uploadHandler accepts a multipart spreadsheet and responds as soon as the
// task is admitted; processing happens in the background
func (s *Server) uploadHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	task, err := s.tc.Upload(c.Request.Context(), fileHeader.Filename, contentType, data)
	if err != nil {
		if errors.Is(err, controller.ErrNotSpreadsheet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept upload: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Success: true,
		TaskID:  task.ID.Hex(),
		Message: "Upload finished, starting validation",
	})
}

// listTasksHandler returns one page of tasks, newest first
func (s *Server) listTasksHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	tasks, err := s.tc.GetTasks(c.Request.Context(), page)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, tasks)
}

// getTaskHandler returns a task with its rows, errors and counts
func (s *Server) getTaskHandler(c *gin.Context) {
	detail, err := s.tc.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get task: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// deleteTaskHandler cascades over the task's rows and errors
func (s *Server) deleteTaskHandler(c *gin.Context) {
	result, err := s.tc.DeleteTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// errorReportHandler streams the generated error report as an attachment
func (s *Server) errorReportHandler(c *gin.Context) {
	fileName, content, err := s.tc.BuildErrorReport(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) || errors.Is(err, controller.ErrNoValidationErrors) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate error report: " + err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}

// queueStatsHandler snapshots job counts for diagnostics
func (s *Server) queueStatsHandler(c *gin.Context) {
	stats, err := s.tc.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get queue stats: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
