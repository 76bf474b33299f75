package api

import (
	"bytes"
	"log/slog"
	"net/http"

	"workbench/pkg/rangeset"
	"workbench/pkg/timeline"
)

// TimelineHandler drives the timeline controller.
type TimelineHandler struct {
	tl *timeline.Controller
}

// NewTimelineHandler creates a new TimelineHandler.
func NewTimelineHandler(tl *timeline.Controller) *TimelineHandler {
	return &TimelineHandler{tl: tl}
}

// RangeRequest edits one range set.
type RangeRequest struct {
	Op    string         `json:"op"` // add, remove, update, clear
	Range rangeset.Range `json:"range"`
	Old   rangeset.Range `json:"old"`
}

// HandleGet returns the persisted state.
// GET /api/timeline
func (h *TimelineHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tl.Persist())
}

// HandlePut restores a state.
// PUT /api/timeline
func (h *TimelineHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var s timeline.State
	if err := readJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	if err := h.tl.Restore(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.tl.Persist())
}

// HandleAction runs a playback action.
// POST /api/timeline/{action}
func (h *TimelineHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	actions := map[string]func(){
		"play":   h.tl.Play,
		"stop":   h.tl.Stop,
		"toggle": h.tl.TogglePlay,
		"next":   h.tl.Next,
		"prev":   h.tl.Prev,
		"first":  h.tl.First,
		"last":   h.tl.Last,
	}
	action := r.PathValue("action")
	fn, ok := actions[action]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	fn()
	writeJSON(w, http.StatusOK, map[string]any{
		"current":  h.tl.Current(),
		"playing":  h.tl.IsPlaying(),
		"has_next": h.tl.HasNext(),
	})
}

// HandleRanges edits the load, animate, hold or slice ranges.
// POST /api/timeline/ranges/{kind}
func (h *TimelineHandler) HandleRanges(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid range request")
		return
	}

	type ops struct {
		add, remove func(rangeset.Range)
		update      func(old, r rangeset.Range)
		clear       func()
		list        func() []rangeset.Range
	}
	kinds := map[string]ops{
		"load":    {h.tl.AddLoadRange, h.tl.RemoveLoadRange, h.tl.UpdateLoadRange, nil, h.tl.LoadRanges},
		"animate": {h.tl.AddAnimationRange, h.tl.RemoveAnimationRange, h.tl.UpdateAnimationRange, h.tl.ClearAnimationRanges, h.tl.AnimationRanges},
		"hold":    {h.tl.AddHoldRange, h.tl.RemoveHoldRange, h.tl.UpdateHoldRange, h.tl.ClearHoldRanges, h.tl.HoldRanges},
		"slice":   {h.tl.AddSliceRange, h.tl.RemoveSliceRange, h.tl.UpdateSliceRange, h.tl.ClearSliceRanges, h.tl.SliceRanges},
	}
	k, ok := kinds[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown range kind")
		return
	}

	switch req.Op {
	case "add":
		k.add(req.Range)
	case "remove":
		k.remove(req.Range)
	case "update":
		k.update(req.Old, req.Range)
	case "clear":
		if k.clear == nil {
			writeError(w, http.StatusBadRequest, "load ranges cannot be cleared")
			return
		}
		k.clear()
	default:
		writeError(w, http.StatusBadRequest, "unknown op")
		return
	}
	writeJSON(w, http.StatusOK, k.list())
}

// HandleDocument returns the XML state document.
// GET /api/timeline/document
func (h *TimelineHandler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.tl.Document().Encode(&buf); err != nil {
		slog.Error("TimelineHandler: failed to encode document", "error", err)
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("TimelineHandler: failed to write document", "error", err)
	}
}

// HandleApplyDocument restores the controller from an XML state document.
// PUT /api/timeline/document
func (h *TimelineHandler) HandleApplyDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := timeline.ParseDocument(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tl.ApplyDocument(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
