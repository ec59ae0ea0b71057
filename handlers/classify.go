package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-redzone/classifier"
	"go-redzone/processor"
)

// maxBodyBytes leaves room for a base64-encoded image inside a JSON body.
const maxBodyBytes = classifier.MaxImageBytes * 2

// readInput decodes the request body into a classifier input, whatever its shape.
func readInput(c *gin.Context) (classifier.Input, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return classifier.Input{}, fmt.Errorf("%w: %v", classifier.ErrMalformed, err)
	}
	if len(body) > maxBodyBytes {
		return classifier.Input{}, classifier.ErrTooLarge
	}
	return classifier.ParseInput(c.GetHeader("Content-Type"), body)
}

// ClassifyHandler labels one report without storing it.
func ClassifyHandler(c *gin.Context, cls classifier.Classifier) {
	in, err := readInput(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), classifier.DefaultTimeout)
	defer cancel()
	report, err := cls.Classify(ctx, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// OrchestrateHandler runs the whole pipeline for one report.
func OrchestrateHandler(c *gin.Context, w *processor.Workflow) {
	in, err := readInput(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := w.Run(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
