package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

type handlers struct {
	registry *module.Registry
	jobs     *jobs.Manager
}

type actionView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Input       any    `json:"input"`
	Output      any    `json:"output,omitempty"`
}

type moduleView struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Builtin     bool         `json:"builtin"`
	Path        string       `json:"path,omitempty"`
	Actions     []actionView `json:"actions"`
}

type rejectedView struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "modules": len(h.registry.Modules())})
}

func (h *handlers) modules(c *gin.Context) {
	mods := h.registry.Modules()
	out := make([]moduleView, 0, len(mods))
	for _, m := range mods {
		mv := moduleView{Name: m.Name, Description: m.Description, Builtin: m.Builtin(), Path: m.Path}
		for _, a := range m.Actions {
			av := actionView{Name: a.Name, Description: a.Description, Input: a.Input}
			if a.Output != nil {
				av.Output = a.Output
			}
			mv.Actions = append(mv.Actions, av)
		}
		out = append(out, mv)
	}

	rejected := make([]rejectedView, 0, len(h.registry.Rejected()))
	for _, r := range h.registry.Rejected() {
		rejected = append(rejected, rejectedView{Path: r.Path, Error: r.Err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{"modules": out, "rejected": rejected})
}

func (h *handlers) job(c *gin.Context) {
	job, err := h.jobs.QueryStatus(c.Param("id"))
	var unknown *jobs.UnknownJobError
	switch {
	case errors.As(err, &unknown):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}
