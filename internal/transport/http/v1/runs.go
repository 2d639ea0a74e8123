package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/service"
)

// StartRun starts a run of an inline or catalog graph.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	var req service.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Graph == nil && req.GraphID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "graph or graph_id is required"})
	}

	runID, err := h.service.StartRun(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// ListRuns lists stored runs.
// GET /v1/runs?state=&limit=&offset=
func (h *Handler) ListRuns(c echo.Context) error {
	req := service.ListRunsRequest{State: domain.RunState(c.QueryParam("state"))}
	var err error
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}
	if req.Offset, err = queryInt(c, "offset"); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid offset"})
	}

	runs, err := h.service.ListRuns(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// ListActiveRuns lists the runs this process is executing.
// GET /v1/runs/active
func (h *Handler) ListActiveRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"runs": h.service.ActiveRuns()})
}

// GetRun returns a stored run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunSteps returns the steps of a run.
// GET /v1/runs/:run_id/steps
func (h *Handler) GetRunSteps(c echo.Context) error {
	steps, err := h.service.GetRunSteps(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.fail(c, err)
	}
	if steps == nil {
		steps = []domain.Step{}
	}
	return c.JSON(http.StatusOK, map[string]any{"steps": steps})
}

// GetRunEvents returns the events of a run.
// GET /v1/runs/:run_id/events?from_step_id=
func (h *Handler) GetRunEvents(c echo.Context) error {
	events, err := h.service.GetRunEvents(c.Request().Context(), c.Param("run_id"), c.QueryParam("from_step_id"))
	if err != nil {
		return h.fail(c, err)
	}
	if events == nil {
		events = []domain.StepEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// ReplayRun returns the recorded trace of a run.
// GET /v1/runs/:run_id/replay
func (h *Handler) ReplayRun(c echo.Context) error {
	trace, err := h.service.Replay(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, trace)
}

// PauseRun pauses a running run.
// POST /v1/runs/:run_id/pause
func (h *Handler) PauseRun(c echo.Context) error {
	runID := c.Param("run_id")
	if err := h.service.PauseRun(c.Request().Context(), runID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "run_id": runID, "state": domain.RunStatePaused})
}

// ResumeRun resumes a paused run.
// POST /v1/runs/:run_id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	runID := c.Param("run_id")
	if err := h.service.ResumeRun(c.Request().Context(), runID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "run_id": runID, "state": domain.RunStateRunning})
}

// CancelRun cancels an active run.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")
	if err := h.service.CancelRun(c.Request().Context(), runID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "run_id": runID, "state": domain.RunStateCancelled})
}

// ForkRun forks a stored run from one of its steps.
// POST /v1/runs/:run_id/fork
func (h *Handler) ForkRun(c echo.Context) error {
	var req service.ForkRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.ParentRunID = c.Param("run_id")
	if req.FromStepID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "from_step_id is required"})
	}

	runID, err := h.service.ForkRun(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "parent_run_id": req.ParentRunID})
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
