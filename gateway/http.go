package gateway

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	gwerrors "github.com/infigaming-com/pubsub-gateway/errors"
	"github.com/infigaming-com/pubsub-gateway/util"
)

const (
	// BatchStatusTrailer tells whether a streamed publish response is whole.
	BatchStatusTrailer = "X-Batch-Status"
	BatchComplete      = "complete"
	BatchIncomplete    = "incomplete"
)

type Handler struct {
	publisher *Publisher
	puller    *Puller
	lg        *zap.Logger
}

func NewHandler(publisher *Publisher, puller *Puller, lg *zap.Logger) *Handler {
	if lg == nil {
		lg = zap.L()
	}
	return &Handler{publisher: publisher, puller: puller, lg: lg}
}

// Register mounts POST /:topic and GET /:subscription.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/:topic", h.Publish)
	r.GET("/:subscription", h.Pull)
}

// Publish streams one outcome per record. A failure after the first outcome
// was written cannot change the 200 status: the body is cut short and the
// X-Batch-Status trailer reads "incomplete", so callers must check it.
func (h *Handler) Publish(c *gin.Context) {
	ctx := c.Request.Context()
	topic := c.Param("topic")
	lg := util.LoggerFromCtx(ctx, h.lg).With(zap.String("topic", topic))

	records, err := decodeRecords(c.Request.Body)
	if err != nil {
		h.abort(c, err)
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Trailer", BatchStatusTrailer)
	aw := NewArrayWriter(c.Writer)
	err = h.publisher.PublishBatch(ctx, topic, records, func(o Outcome) error {
		return aw.Write(o)
	})
	if err != nil {
		if !aw.Started() {
			c.Writer.Header().Del("Trailer")
			h.abort(c, err)
			return
		}
		lg.Error("publish response truncated", zap.Int("written", aw.Len()), zap.Error(err))
		c.Writer.Header().Set(BatchStatusTrailer, BatchIncomplete)
		return
	}
	if err := aw.Close(); err != nil {
		lg.Warn("publish response not completed", zap.Error(err))
		c.Writer.Header().Set(BatchStatusTrailer, BatchIncomplete)
		return
	}
	c.Writer.Header().Set(BatchStatusTrailer, BatchComplete)
}

func (h *Handler) Pull(c *gin.Context) {
	ctx := c.Request.Context()
	subscription := c.Param("subscription")

	delivered := false
	_, err := h.puller.Deliver(ctx, subscription, func(body []byte) error {
		delivered = true
		return writeBody(c, body)
	})
	if err == nil {
		return
	}
	var ackErr *AckError
	if delivered || errors.As(err, &ackErr) {
		// body already sent, Deliver logged the failure
		return
	}
	h.abort(c, err)
}

// writeBody sends body and reports whether it left the process.
func writeBody(c *gin.Context, body []byte) error {
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	if _, err := c.Writer.Write(body); err != nil {
		return err
	}
	if err := http.NewResponseController(c.Writer).Flush(); err != nil {
		if !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		c.Writer.Flush()
	}
	return c.Request.Context().Err()
}

func decodeRecords(body io.Reader) ([]Record, error) {
	if body == nil {
		return nil, gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, "request body must be a JSON array", nil)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, "read request body", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records *[]Record
	if err := dec.Decode(&records); err != nil {
		return nil, gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, "request body must be a JSON array of objects", err)
	}
	if records == nil {
		return nil, gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, "request body must be a JSON array", nil)
	}
	if dec.More() {
		return nil, gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, "unexpected data after JSON array", nil)
	}
	return *records, nil
}

func (h *Handler) abort(c *gin.Context, err error) {
	var gwErr *gwerrors.Error
	if !errors.As(err, &gwErr) {
		gwErr = gwerrors.Internal(0, "internal error", err)
	}
	status := gwErr.GetStatusCode()
	if status >= http.StatusInternalServerError {
		util.LoggerFromCtx(c.Request.Context(), h.lg).Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":    gwErr.GetCode(),
		"message": gwErr.Error(),
		"details": gwErr.GetDetails(),
	})
}
