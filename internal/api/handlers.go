package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
)

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.deps.Host.Devices()
	if t := r.URL.Query().Get("type"); t != "" {
		devices = s.deps.Host.DevicesOfType(t)
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.deps.Host.Device(host.DeviceID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type actionRequest struct {
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

func (s *Server) deviceAction(w http.ResponseWriter, r *http.Request) {
	id := host.DeviceID(r.PathValue("id"))

	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := host.ParseAction(req.Action, req.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.deps.Host.Dispatch(r.Context(), id, action); err != nil {
		log.Warn().Err(err).Str("device", string(id)).Stringer("action", action).Msg("Device action failed")
		writeError(w, err)
		return
	}

	dev, err := s.deps.Host.Device(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Host.Variables())
}

type variableRequest struct {
	Value *string `json:"value"`
}

func (s *Server) setVariable(w http.ResponseWriter, r *http.Request) {
	id := host.VariableID(r.PathValue("id"))

	var req variableRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}
	if err := s.deps.Host.SetVariable(r.Context(), id, *req.Value); err != nil {
		writeError(w, err)
		return
	}

	v, err := s.deps.Host.Variable(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// startFlash accepts the flash property bag (deviceList, flashCount, ...)
// as a JSON object.
func (s *Server) startFlash(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if err := decodeBody(r, &args); err != nil {
		writeError(w, err)
		return
	}
	opts, err := flash.ParseProps(actions.PropsFromArgs(args), s.deps.FlashDefaults)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.deps.Flash.Start(opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "devices": job.Devices})
}

func (s *Server) cancelFlash(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Flash.CancelAll()
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) saveScene(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Scenes.SaveState(host.DeviceID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"items": len(snap)})
}

func (s *Server) compareScene(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Scenes.CompareState(host.DeviceID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches": report.Matches(),
		"items":   report.Items,
	})
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.deps.Catalog.Describe()})
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	args := map[string]any{}
	if err := decodeBody(r, &args); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Actions.InvokeThroughLua(r.Context(), name, args, "api"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
