package app

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bookshelf",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total number of HTTP requests by route template, method and status.",
}, []string{"route", "method", "status"})

func observeRequest(r *http.Request, status int) {
	httpRequests.WithLabelValues(routeLabel(r), r.Method, strconv.Itoa(status)).Inc()
}

// routeLabel keeps label cardinality bounded by using the route template
// instead of the raw path.
func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return "unmatched"
	}
	return template
}
