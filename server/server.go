// Package server provides the RouteTable/Server/Mainframe binding idiom
// used to mount a service's HTTP endpoints, routed through chi.Router
// rather than the default net/http mux.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi"
)

// HTTPBinder is an object which knows how to bind methods to HTTP routes and can list them.
type HTTPBinder interface {
	BindRoutes(chi.Router)
	ListRoutes() []string
}

// RouteTable maps URL endpoints to handlers.
type RouteTable map[string]http.HandlerFunc

// ListEndpoints lists the endpoints in a RouteTable (the keys).
func (rt RouteTable) ListEndpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	return routes
}

// A Server holds a RouteTable and implements HTTPBinder.
type Server struct {
	RouteTable RouteTable
	URLStem    string
}

// BindRoutes mounts the server's routes on r under URLStem, plus a
// list-of-routes introspection endpoint.
func (s *Server) BindRoutes(r chi.Router) {
	r.Route(s.URLStem, func(sub chi.Router) {
		for str, meth := range s.RouteTable {
			sub.Get("/"+str, meth)
		}
		sub.Get("/list-of-routes", func(w http.ResponseWriter, r *http.Request) {
			list := s.ListRoutes()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if err := json.NewEncoder(w).Encode(list); err != nil {
				fstr := fmt.Sprintf("error encoding list of routes data to json %q", err)
				log.Println(fstr)
				http.Error(w, fstr, http.StatusInternalServerError)
			}
		})
	})
}

// ListRoutes returns a slice of strings that includes all of the routes
// bound by this server.
func (s *Server) ListRoutes() []string {
	return s.RouteTable.ListEndpoints()
}

// Mainframe is the top-level struct for an actual HTTP server with many
// Server objects that map to hardware and represent "services" to the end
// user.
type Mainframe struct {
	nodes []*Server
}

// Add adds a new server to the mainframe.
func (m *Mainframe) Add(s *Server) {
	m.nodes = append(m.nodes, s)
}

// RouteGraph returns a non-recursive, depth-1 map of URL stems and their endpoints.
func (m *Mainframe) RouteGraph() map[string][]string {
	routes := make(map[string][]string)
	for _, s := range m.nodes {
		routes[s.URLStem] = s.ListRoutes()
	}
	return routes
}

func (m *Mainframe) graphHandler(w http.ResponseWriter, r *http.Request) {
	graph := m.RouteGraph()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(graph); err != nil {
		fstr := fmt.Sprintf("error encoding route graph to json state %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// BindRoutes binds the routes for each member service plus a top-level
// route-graph introspection endpoint, all on r.
func (m *Mainframe) BindRoutes(r chi.Router) {
	for _, s := range m.nodes {
		s.BindRoutes(r)
	}
	r.Get("/route-graph", m.graphHandler)
}
