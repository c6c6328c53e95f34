package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/registry"
)

func (d Deps) handleDeleteTask(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	if err := d.Directory.Task(req.ID).Delete(c.Request.Context()); err != nil {
		writeMappedError(c, err)
		return
	}
	d.Directory.ForgetTask(req.ID)
	if err := d.Registry.Remove(c.Request.Context(), registry.KindTask, req.ID); err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": req.ID})
}

func (d Deps) handleDeleteWorkflow(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	if err := d.Directory.Workflow(req.ID).Delete(c.Request.Context()); err != nil {
		writeMappedError(c, err)
		return
	}
	d.Directory.ForgetWorkflow(req.ID)
	if err := d.Registry.Remove(c.Request.Context(), registry.KindWorkflow, req.ID); err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": req.ID})
}

// deleteAllResult is the deleteAll response shape: iterate the registry,
// delete each instance, and collect per-id failures rather than aborting
// the whole batch on the first error.
type deleteAllResult struct {
	Deleted  []string          `json:"deleted"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (d Deps) handleDeleteAllTasks(c *gin.Context) {
	rows, err := d.Registry.List(c.Request.Context(), registry.KindTask)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	result := deleteAllResult{Failures: map[string]string{}}
	for _, row := range rows {
		if err := d.Directory.Task(row.ID).Delete(c.Request.Context()); err != nil {
			result.Failures[row.ID] = err.Error()
			continue
		}
		d.Directory.ForgetTask(row.ID)
		if err := d.Registry.Remove(c.Request.Context(), registry.KindTask, row.ID); err != nil {
			result.Failures[row.ID] = err.Error()
			continue
		}
		result.Deleted = append(result.Deleted, row.ID)
	}
	if len(result.Failures) == 0 {
		result.Failures = nil
	}
	c.JSON(http.StatusOK, result)
}

func (d Deps) handleDeleteAllWorkflows(c *gin.Context) {
	rows, err := d.Registry.List(c.Request.Context(), registry.KindWorkflow)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	result := deleteAllResult{Failures: map[string]string{}}
	for _, row := range rows {
		if err := d.Directory.Workflow(row.ID).Delete(c.Request.Context()); err != nil {
			result.Failures[row.ID] = err.Error()
			continue
		}
		d.Directory.ForgetWorkflow(row.ID)
		if err := d.Registry.Remove(c.Request.Context(), registry.KindWorkflow, row.ID); err != nil {
			result.Failures[row.ID] = err.Error()
			continue
		}
		result.Deleted = append(result.Deleted, row.ID)
	}
	if len(result.Failures) == 0 {
		result.Failures = nil
	}
	c.JSON(http.StatusOK, result)
}
