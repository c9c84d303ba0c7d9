package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/glidex/control-plane/models"
)

// CreateVMRequest is the body of POST /vm.
type CreateVMRequest struct {
	Name string `json:"name"`
	models.VMConfig
}

// HandleCreateVM godoc
//
//	@Summary		Create a new virtual machine.
//	@Description	Registers a VM record with the given name and machine configuration. The VM is not started.
//	@Tags			vm
//	@Accept			json
//	@Produce		json
//	@Param			vm	body		CreateVMRequest	true	"VM definition"
//	@Success		201	{object}	models.VirtualMachine
//	@Router			/vm [post]
func (h *handler) HandleCreateVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm"))

	var body CreateVMRequest
	if err := c.BindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.registry.Create(body.Name, body.VMConfig)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(201, rec)
}

// HandleListVMs godoc
//
//	@Summary	List all virtual machines.
//	@Tags		vm
//	@Produce	json
//	@Success	200	{array}	models.VirtualMachine
//	@Router		/vm [get]
func (h *handler) HandleListVMs(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm"))

	c.JSON(200, h.registry.List())
}

// HandleGetVM godoc
//
//	@Summary	Get one virtual machine by ID or name.
//	@Tags		vm
//	@Produce	json
//	@Success	200	{object}	models.VirtualMachine
//	@Router		/vm/{id} [get]
func (h *handler) HandleGetVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id"))

	rec, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, rec)
}

// HandleDeleteVM godoc
//
//	@Summary		Delete a virtual machine.
//	@Description	A running VM is force-stopped first. The console log stays on disk.
//	@Tags			vm
//	@Produce		json
//	@Success		200
//	@Router			/vm/{id} [delete]
func (h *handler) HandleDeleteVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id"))

	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"message": "VM deleted successfully"})
}

// HandleStartVM godoc
//
//	@Summary		Start or resume a virtual machine.
//	@Description	Boots a created or stopped VM; resumes a paused one.
//	@Tags			vm
//	@Produce		json
//	@Success		200
//	@Router			/vm/{id}/start [post]
func (h *handler) HandleStartVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id/start"))

	if err := h.registry.Start(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"message": "VM started successfully"})
}

// HandleStopVM godoc
//
//	@Summary		Stop a running virtual machine.
//	@Description	Requests a guest shutdown and escalates to SIGKILL after the grace period.
//	@Tags			vm
//	@Produce		json
//	@Success		200
//	@Router			/vm/{id}/stop [post]
func (h *handler) HandleStopVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id/stop"))

	if err := h.registry.Stop(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"message": "VM stopped successfully"})
}

// HandlePauseVM godoc
//
//	@Summary	Pause a running virtual machine.
//	@Tags		vm
//	@Produce	json
//	@Success	200
//	@Router		/vm/{id}/pause [post]
func (h *handler) HandlePauseVM(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id/pause"))

	if err := h.registry.Pause(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"message": "VM paused successfully"})
}

// HandleVMLog godoc
//
//	@Summary		Get a VM's console log.
//	@Description	Returns the full historical console output, in any lifecycle state.
//	@Tags			vm
//	@Produce		plain
//	@Success		200	{string}	string
//	@Router			/vm/{id}/log [get]
func (h *handler) HandleVMLog(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	span.SetAttributes(attribute.String("URL", "/vm/:id/log"))

	content, err := h.registry.ConsoleLog(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Data(200, "text/plain; charset=utf-8", content)
}

// HandleHealthcheck godoc
//
//	@Summary	Liveness check.
//	@Tags		health
//	@Produce	json
//	@Success	200
//	@Router		/health [get]
func (h *handler) HandleHealthcheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
