package server

import (
	"net/http"
)

func SetupRoutes(reportHandler *ReportService) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", reportHandler.Health)
	mux.HandleFunc("/api/upload", reportHandler.Upload)
	mux.HandleFunc("/api/documents/", reportHandler.GetDocument)
	mux.HandleFunc("/api/latest/xml", reportHandler.LatestXML)
	mux.HandleFunc("/api/latest/ativos", reportHandler.LatestAssets)
	mux.HandleFunc("/api/xpath/query", reportHandler.PathQuery)
	mux.HandleFunc("/api/xpath/aggregate", reportHandler.Aggregate)
	mux.HandleFunc("/api/query/top-marketcap", reportHandler.TopMarketCap)
	mux.HandleFunc("/api/query/stats-by-tipo", reportHandler.StatsByType)
	mux.HandleFunc("/api/query/movers", reportHandler.Movers)

	return mux
}
