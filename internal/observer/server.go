package observer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/joshuafuller/querierd/querier"
)

// Server is the read-only net/http + encoding/json surface over the
// Engine's interface and group state. Handlers run on the net/http request
// goroutine, not the dispatcher goroutine, so every read of Table/Iface/
// Group state goes through Engine.Query: it copies the view out while
// running on the dispatcher, and the handler only ever touches the copy.
type Server struct {
	e   *querier.Engine
	now func() time.Time
}

// NewServer builds a Server over e. now defaults to time.Now; tests may
// override it for deterministic countdowns.
func NewServer(e *querier.Engine, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{e: e, now: now}
}

// ifaceView is the GET /ifaces row shape.
type ifaceView struct {
	Name            string `json:"name"`
	Index           int    `json:"index"`
	CurrentAddress  string `json:"current_address,omitempty"`
	VersionMode     string `json:"version_mode"`
	Querier         bool   `json:"querier"`
	RemoteQuerier   string `json:"remote_querier,omitempty"`
	OQPIRemainingMS int64  `json:"oqpi_remaining_ms,omitempty"`
}

// groupView is the GET /ifaces/{name}/groups row shape.
type groupView struct {
	Address          string `json:"address"`
	Reporter         string `json:"reporter"`
	PV               string `json:"pv"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// Mux builds the http.ServeMux routing GET /ifaces and GET /ifaces/{name}/groups.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ifaces", s.handleIfaces)
	mux.HandleFunc("/ifaces/", s.handleIfaceGroups)
	return mux
}

func (s *Server) handleIfaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var views []ifaceView
	s.e.Query(func() {
		now := s.now()
		s.e.Table().Each(func(ifc *querier.Iface) bool {
			v := ifaceView{
				Name:        ifc.Name,
				Index:       ifc.Index,
				VersionMode: ifc.VersionMode.String(),
				Querier:     ifc.Querier,
			}
			if ifc.CurrentAddress.IsValid() {
				v.CurrentAddress = ifc.CurrentAddress.String()
			}
			if ifc.RemoteQuerier != nil {
				v.RemoteQuerier = ifc.RemoteQuerier.Address.String()
				v.OQPIRemainingMS = s.e.Remaining(now, ifc.RemoteQuerier.OQPITimer)
			}
			views = append(views, v)
			return true
		})
	})
	writeJSON(w, views)
}

func (s *Server) handleIfaceGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, ok := parseIfaceGroupsPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var views []groupView
	var found bool
	s.e.Query(func() {
		ifc, ok := s.e.Table().GetByName(name)
		if !ok {
			return
		}
		found = true
		now := s.now()
		views = make([]groupView, 0, len(ifc.Groups))
		for _, g := range ifc.Groups {
			views = append(views, groupView{
				Address:          g.Address.String(),
				Reporter:         g.Reporter.String(),
				PV:               g.PV.String(),
				RemainingSeconds: s.e.Remaining(now, g.MembershipTimer) / 1000,
			})
		}
	})
	if !found {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// parseIfaceGroupsPath extracts "eth0" from "/ifaces/eth0/groups"; any other
// shape is rejected.
func parseIfaceGroupsPath(path string) (string, bool) {
	const prefix = "/ifaces/"
	const suffix = "/groups"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix {
		return "", false
	}
	if path[len(path)-len(suffix):] != suffix {
		return "", false
	}
	return path[len(prefix) : len(path)-len(suffix)], true
}
