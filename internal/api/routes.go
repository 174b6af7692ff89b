package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the API. metrics may be nil.
func SetupRoutes(router *gin.Engine, handler *Handler, metrics http.Handler) {
	router.GET("/health", handler.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/regions", handler.GetRegions)
		api.GET("/sales", handler.SearchSales)
		api.POST("/sales", handler.IngestSales)
		api.GET("/property/:property_id/history", handler.GetPropertyHistory)
		api.GET("/property/:property_id/neighbors", handler.GetPropertyNeighbors)

		stats := api.Group("/stats")
		stats.GET("/top_performers", handler.GetTopPerformers)
		stats.GET("/unified_map", handler.GetUnifiedMap)
		stats.GET("/unified_map/geojson", handler.GetUnifiedMapGeoJSON)
		stats.GET("/street_cagr", handler.GetStreetCAGR)
		stats.GET("/suburb_cagr", handler.GetSuburbCAGR)
		stats.GET("/street_trend", handler.GetStreetTrend)
		stats.GET("/suburb_trend", handler.GetSuburbTrend)
		stats.GET("/neighbors/:level", handler.GetNeighbors)
		stats.GET("/suburb_centroids", handler.GetSuburbCentroids)
		stats.GET("/monthly_median", handler.GetMonthlyPrices)
		stats.GET("/top_suburbs", handler.GetTopSuburbs)
		stats.GET("/global_summary", handler.GetGlobalSummary)
	}
}
