package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-redzone/classifier"
	"go-redzone/processor"
)

// errBadRequest marks handler-level validation failures.
var errBadRequest = errors.New("bad request")

// statusFor maps an error onto the HTTP status the API reports for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, classifier.ErrEmptyInput),
		errors.Is(err, classifier.ErrMalformed),
		errors.Is(err, classifier.ErrBadImage),
		errors.Is(err, classifier.ErrUnsupported),
		errors.Is(err, processor.ErrMissingLocation):
		return http.StatusBadRequest
	case errors.Is(err, classifier.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
