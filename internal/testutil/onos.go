//go:build integration || e2e

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// FakeONOS emulates the slice of the ONOS northbound REST API the
// orchestrator drives: device and link inventory, flow programming,
// application lifecycle and the capability registry. State lives in
// memory and every mutation is recorded for assertions.
type FakeONOS struct {
	mu       sync.Mutex
	devices  []fakeDevice
	links    []fakeLink
	caps     []capabilityEntry
	flows    map[string]map[string]json.RawMessage
	nextFlow int
	active   map[string]bool
}

type fakeDevice struct {
	id    string
	ports []string
}

type fakeLink struct {
	srcDev, srcPort, dstDev, dstPort string
}

type capabilityEntry struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

func NewFakeONOS() *FakeONOS {
	return &FakeONOS{
		flows:  map[string]map[string]json.RawMessage{},
		active: map[string]bool{},
	}
}

// AddSwitch registers an available switch with the given port numbers.
func (f *FakeONOS) AddSwitch(id string, ports ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, fakeDevice{id: id, ports: ports})
}

// Connect wires two switch ports together, one link per direction.
func (f *FakeONOS) Connect(devA, portA, devB, portB string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links,
		fakeLink{devA, portA, devB, portB},
		fakeLink{devB, portB, devA, portA})
}

// AddCapability announces a network function in the capability registry.
func (f *FakeONOS) AddCapability(ctype, name string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = append(f.caps, capabilityEntry{Type: ctype, Name: name, Ready: ready})
}

// Start serves the fake API on a local listener until the test ends and
// returns its base URL.
func (f *FakeONOS) Start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return srv.URL
}

// FlowCount returns how many flows are installed across all switches.
func (f *FakeONOS) FlowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, flows := range f.flows {
		n += len(flows)
	}
	return n
}

// FlowsOn returns how many flows are installed on one switch.
func (f *FakeONOS) FlowsOn(device string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flows[device])
}

// ActiveApps returns the names of the active applications, sorted.
func (f *FakeONOS) ActiveApps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name, on := range f.active {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *FakeONOS) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/onos/v1/devices", f.getDevices).Methods(http.MethodGet)
	r.HandleFunc("/onos/v1/devices/{device}/ports", f.getPorts).Methods(http.MethodGet)
	r.HandleFunc("/onos/v1/links", f.getLinks).Methods(http.MethodGet)
	r.HandleFunc("/onos/v1/flows/{device}", f.postFlow).Methods(http.MethodPost)
	r.HandleFunc("/onos/v1/flows/{device}/{flow}", f.deleteFlow).Methods(http.MethodDelete)
	r.HandleFunc("/onos/v1/applications/{app}/active", f.activateApp).Methods(http.MethodPost)
	r.HandleFunc("/onos/v1/applications/{app}/active", f.deactivateApp).Methods(http.MethodDelete)
	r.HandleFunc("/onos/v1/applications/{app}", f.getApp).Methods(http.MethodGet)
	r.HandleFunc("/onos/v1/network/configuration/apps/{app}", f.postAppConfig).Methods(http.MethodPost)
	r.HandleFunc("/onos/{app}/capabilities", f.getCapabilities).Methods(http.MethodGet)
	return r
}

func (f *FakeONOS) getDevices(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	devices := make([]map[string]interface{}, 0, len(f.devices))
	for _, d := range f.devices {
		devices = append(devices, map[string]interface{}{
			"id": d.id, "type": "SWITCH", "available": true,
		})
	}
	writeFakeJSON(w, map[string]interface{}{"devices": devices})
}

func (f *FakeONOS) getPorts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.id != mux.Vars(r)["device"] {
			continue
		}
		ports := make([]map[string]interface{}, 0, len(d.ports))
		for _, p := range d.ports {
			ports = append(ports, map[string]interface{}{
				"port":        p,
				"isEnabled":   true,
				"annotations": map[string]string{"portName": "eth" + p},
			})
		}
		writeFakeJSON(w, map[string]interface{}{"ports": ports})
		return
	}
	http.Error(w, "no such device", http.StatusNotFound)
}

func (f *FakeONOS) getLinks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	links := make([]map[string]interface{}, 0, len(f.links))
	for _, l := range f.links {
		links = append(links, map[string]interface{}{
			"src":   map[string]string{"device": l.srcDev, "port": l.srcPort},
			"dst":   map[string]string{"device": l.dstDev, "port": l.dstPort},
			"type":  "DIRECT",
			"state": "ACTIVE",
		})
	}
	writeFakeJSON(w, map[string]interface{}{"links": links})
}

func (f *FakeONOS) postFlow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	device := mux.Vars(r)["device"]
	f.nextFlow++
	id := strconv.Itoa(f.nextFlow)
	if f.flows[device] == nil {
		f.flows[device] = map[string]json.RawMessage{}
	}
	f.flows[device][id] = body

	w.Header().Set("Location", r.URL.Path+"/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (f *FakeONOS) deleteFlow(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, flow := mux.Vars(r)["device"], mux.Vars(r)["flow"]
	if _, ok := f.flows[device][flow]; !ok {
		http.Error(w, "no such flow", http.StatusNotFound)
		return
	}
	delete(f.flows[device], flow)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeONOS) activateApp(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[mux.Vars(r)["app"]] = true
}

func (f *FakeONOS) deactivateApp(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[mux.Vars(r)["app"]] = false
}

func (f *FakeONOS) getApp(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "INSTALLED"
	if f.active[mux.Vars(r)["app"]] {
		state = "ACTIVE"
	}
	writeFakeJSON(w, map[string]string{"state": state})
}

func (f *FakeONOS) postAppConfig(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
}

func (f *FakeONOS) getCapabilities(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	caps := f.caps
	if caps == nil {
		caps = []capabilityEntry{}
	}
	writeFakeJSON(w, map[string]interface{}{"capabilities": caps})
}

func writeFakeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
