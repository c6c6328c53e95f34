package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/registry"
	"spectralnotify/internal/domain/workflow"
)

type phaseSpecRequest struct {
	PhaseKey string  `json:"phaseKey"`
	Label    string  `json:"label,omitempty"`
	Weight   float64 `json:"weight"`
}

type createWorkflowRequest struct {
	ID       string             `json:"id"`
	Phases   []phaseSpecRequest `json:"phases"`
	Metadata json.RawMessage    `json:"metadata,omitempty"`
}

func (d Deps) handleCreateWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	specs := make([]workflow.PhaseSpec, 0, len(req.Phases))
	for _, p := range req.Phases {
		specs = append(specs, workflow.PhaseSpec{PhaseKey: p.PhaseKey, Label: p.Label, Weight: p.Weight})
	}

	w, phases, err := d.WorkflowStore.Create(c.Request.Context(), workflow.CreateParams{
		WorkflowID: req.ID,
		Phases:     specs,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeMappedError(c, err)
		return
	}
	if err := d.Registry.Register(c.Request.Context(), registry.KindWorkflow, req.ID, callerIdentity(c), w.CreatedAt); err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}

func (d Deps) handleGetWorkflow(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	w, err := d.WorkflowStore.Get(c.Request.Context(), req.ID)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (d Deps) handleListWorkflows(c *gin.Context) {
	rows, err := d.Registry.List(c.Request.Context(), registry.KindWorkflow)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	out := make([]*workflow.Workflow, 0, len(rows))
	for _, row := range rows {
		w, err := d.WorkflowStore.Get(c.Request.Context(), row.ID)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	c.JSON(http.StatusOK, out)
}

func (d Deps) handleWorkflowHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	events, err := d.WorkflowStore.History(c.Request.Context(), req.ID, req.Limit)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (d Deps) handleGetPhases(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		writeMappedError(c, apperr.ValidationError("id is required"))
		return
	}
	phases, err := d.WorkflowStore.Phases(c.Request.Context(), req.ID)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, phases)
}

type updatePhaseProgressRequest struct {
	WorkflowID string `json:"workflowId"`
	PhaseKey   string `json:"phase"`
	Progress   int    `json:"progress"`
}

func (d Deps) handleUpdatePhaseProgress(c *gin.Context) {
	var req updatePhaseProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkflowID == "" || req.PhaseKey == "" {
		writeMappedError(c, apperr.ValidationError("workflowId and phase are required"))
		return
	}
	w, phases, err := d.Directory.Workflow(req.WorkflowID).UpdatePhaseProgress(c.Request.Context(), req.PhaseKey, req.Progress)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}

type phaseKeyRequest struct {
	WorkflowID string `json:"workflowId"`
	PhaseKey   string `json:"phase"`
}

func (d Deps) handleCompletePhase(c *gin.Context) {
	var req phaseKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkflowID == "" || req.PhaseKey == "" {
		writeMappedError(c, apperr.ValidationError("workflowId and phase are required"))
		return
	}
	w, phases, err := d.Directory.Workflow(req.WorkflowID).CompletePhase(c.Request.Context(), req.PhaseKey)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}

type workflowIDRequest struct {
	WorkflowID string `json:"workflowId"`
}

func (d Deps) handleCompleteWorkflow(c *gin.Context) {
	var req workflowIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkflowID == "" {
		writeMappedError(c, apperr.ValidationError("workflowId is required"))
		return
	}
	w, phases, err := d.Directory.Workflow(req.WorkflowID).Complete(c.Request.Context())
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}

type workflowErrorRequest struct {
	WorkflowID string `json:"workflowId"`
	Error      string `json:"error"`
}

func (d Deps) handleFailWorkflow(c *gin.Context) {
	var req workflowErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkflowID == "" {
		writeMappedError(c, apperr.ValidationError("workflowId is required"))
		return
	}
	w, phases, err := d.Directory.Workflow(req.WorkflowID).Fail(c.Request.Context(), req.Error)
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}

func (d Deps) handleCancelWorkflow(c *gin.Context) {
	var req workflowIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkflowID == "" {
		writeMappedError(c, apperr.ValidationError("workflowId is required"))
		return
	}
	w, phases, err := d.Directory.Workflow(req.WorkflowID).Cancel(c.Request.Context())
	if err != nil {
		writeMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": w, "phases": phases})
}
