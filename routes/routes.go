package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-redzone/classifier"
	"go-redzone/db"
	"go-redzone/dispatch"
	"go-redzone/handlers"
	"go-redzone/processor"
	"go-redzone/types"
)

// Geocoder is satisfied by *geocode.Geocoder.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.GeoPoint, error)
}

// Deps are the collaborators the handlers are built on. Geocoder may be nil.
type Deps struct {
	Classifier classifier.Classifier
	Reports    db.ReportStore
	Aggregates db.AggregateStore
	Aggregator *processor.Aggregator
	Dispatcher dispatch.LocationDispatcher
	Workflow   *processor.Workflow
	Geocoder   Geocoder
	// AllowOrigin defaults to "*".
	AllowOrigin string
}

// CORS answers preflight requests and allows any method and header.
func CORS(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(CORS(d.AllowOrigin))
	// Unmatched requests, preflights included, pass through CORS first.
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Hello, welcome to Go Redzone!",
		})
	})

	// Same endpoints under the api group and at the root.
	register(r.Group("/api/redzone"), d)
	register(r.Group(""), d)

	return r
}

func register(g *gin.RouterGroup, d Deps) {
	g.POST("/classify", func(c *gin.Context) {
		handlers.ClassifyHandler(c, d.Classifier)
	})
	g.POST("/push-to-store", func(c *gin.Context) {
		handlers.PushToStoreHandler(c, d.Reports)
	})
	g.POST("/get-aggregate", func(c *gin.Context) {
		handlers.GetAggregateHandler(c, d.Aggregator)
	})
	g.POST("/trigger-call-for-location", func(c *gin.Context) {
		handlers.TriggerCallHandler(c, d.Dispatcher)
	})
	g.POST("/orchestrate", func(c *gin.Context) {
		handlers.OrchestrateHandler(c, d.Workflow)
	})

	g.GET("/crisis-map/data", func(c *gin.Context) {
		handlers.CrisisMapDataHandler(c, d.Aggregates)
	})
	g.GET("/crisis-map/summary", func(c *gin.Context) {
		handlers.CrisisMapSummaryHandler(c, d.Aggregates)
	})
	g.GET("/crisis-map/disaster-types", func(c *gin.Context) {
		handlers.DisasterTypesHandler(c, d.Aggregates)
	})
	g.GET("/crisis-map/geocode/:location", func(c *gin.Context) {
		handlers.GeocodeLocationHandler(c, d.Aggregates, d.Geocoder)
	})
}
