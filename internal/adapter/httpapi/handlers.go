package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"delayd/internal/adapter/callback"
	"delayd/internal/delay"
	"delayd/internal/shared"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type listBody struct {
	Count int         `json:"count"`
	Jobs  []delay.Job `json:"jobs"`
}

type addedBody struct {
	ID        string `json:"id,omitempty"`
	Time      int64  `json:"time,omitempty"`
	Scheduled bool   `json:"scheduled"`
}

func (a *api) addAt(c *gin.Context) {
	if c.GetHeader(callback.HeaderFromDelayd) == "true" {
		c.JSON(http.StatusAccepted, addedBody{Scheduled: false})
		return
	}
	body, ok := a.readBody(c)
	if !ok {
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		a.fail(c, shared.MarkKind(errors.New("body is not valid JSON"), shared.KindValidation))
		return
	}

	spec := delay.Spec{Time: c.Param("timestamp")}
	if len(body) > 0 {
		spec.Message = json.RawMessage(body)
	}
	job, err := a.q.Add(spec, false)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, addedBody{ID: job.ID(), Time: job.Time(), Scheduled: true})
}

func (a *api) create(c *gin.Context) {
	body, ok := a.readBody(c)
	if !ok {
		return
	}
	spec, err := delay.ParseSpec(body)
	if err != nil {
		a.fail(c, shared.MarkKind(err, shared.KindValidation))
		return
	}
	job, err := a.q.Add(spec, false)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (a *api) list(c *gin.Context) {
	jobs := a.q.Jobs()
	if jobs == nil {
		jobs = []delay.Job{}
	}
	c.JSON(http.StatusOK, listBody{Count: len(jobs), Jobs: jobs})
}

func (a *api) get(c *gin.Context) {
	job, ok := a.q.Find(c.Param("id"))
	if !ok {
		a.fail(c, shared.Wrapf(shared.ErrNotFound, "job %s", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *api) remove(c *gin.Context) {
	job, ok := a.q.Remove(c.Param("id"), false)
	if !ok {
		a.fail(c, shared.Wrapf(shared.ErrNotFound, "job %s", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *api) clear(c *gin.Context) {
	a.q.Clear(false)
	c.Status(http.StatusNoContent)
}

func (a *api) echo(c *gin.Context) {
	body, ok := a.readBody(c)
	if !ok {
		return
	}
	a.log.Info("callback received", "from_delayd", c.GetHeader(callback.HeaderFromDelayd) == "true", "body", string(body))
	c.Status(http.StatusNoContent)
}

func (a *api) health(c *gin.Context) {
	if a.ready != nil {
		if err := a.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": a.q.Len()})
}

func (a *api) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: "body too large", Kind: shared.KindValidation.String()})
			return nil, false
		}
		a.fail(c, shared.MarkKind(err, shared.KindValidation))
		return nil, false
	}
	return body, true
}

func (a *api) fail(c *gin.Context, err error) {
	kind := shared.KindOf(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Kind: kind.String()})
}

func statusOf(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindCanceled:
		return 499
	case shared.KindDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
