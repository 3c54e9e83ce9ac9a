package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"gorm.io/datatypes"

	"github.com/mapfy/mapfy/internal/api"
	"github.com/mapfy/mapfy/internal/influx"
	"github.com/mapfy/mapfy/internal/store"
	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

type mapRequest struct {
	Name        string             `json:"name" validate:"required,min=1,max=200"`
	Description string             `json:"description" validate:"max=2000"`
	Style       string             `json:"style"`
	Viewport    engine.Viewport    `json:"viewport"`
	GeoJSON     geojson.Collection `json:"geojson"`
	IsDraft     bool               `json:"isDraft"`
}

// mapUpdateRequest is the partial-update body: only the fields present in
// the JSON are applied, everything else keeps its stored value.
type mapUpdateRequest struct {
	Name        *string             `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string             `json:"description" validate:"omitempty,max=2000"`
	Style       *string             `json:"style"`
	Viewport    *engine.Viewport    `json:"viewport"`
	GeoJSON     *geojson.Collection `json:"geojson"`
	IsDraft     *bool               `json:"isDraft"`
}

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	maps, err := s.store.MapsByUser(user.ID)
	if err != nil {
		s.log.Error().Err(err).Uint("user", user.ID).Msg("failed to list maps")
		s.writeError(w, http.StatusInternalServerError, "failed to list maps")
		return
	}

	out := make([]api.MapSummary, len(maps))
	for i, rec := range maps {
		out[i] = api.MapSummary{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			IsDraft:     rec.IsDraft,
			UpdatedAt:   rec.UpdatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	start := time.Now()

	var req mapRequest
	if !s.decode(w, r, &req) {
		return
	}

	rec, ok := s.mapModel(w, user.ID, req)
	if !ok {
		return
	}
	if err := s.store.CreateMap(&rec); err != nil {
		s.log.Error().Err(err).Uint("user", user.ID).Msg("failed to create map")
		s.writeError(w, http.StatusInternalServerError, "failed to save map")
		return
	}

	s.recordSave("create", rec, len(req.GeoJSON.Features), time.Since(start))
	s.respondWithMap(w, http.StatusCreated, rec)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, ok := s.mapID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.MapByID(user.ID, id)
	if err != nil {
		s.mapStoreError(w, err, user.ID)
		return
	}
	s.respondWithMap(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateMap(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	start := time.Now()
	id, ok := s.mapID(w, r)
	if !ok {
		return
	}

	var req mapUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	fields := map[string]any{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Style != nil {
		fields["style"] = *req.Style
	}
	if req.Viewport != nil {
		fields["lng"] = req.Viewport.Longitude
		fields["lat"] = req.Viewport.Latitude
		fields["zoom"] = req.Viewport.Zoom
		fields["bearing"] = req.Viewport.Bearing
		fields["pitch"] = req.Viewport.Pitch
	}
	featureCount := 0
	if req.GeoJSON != nil {
		if err := req.GeoJSON.Validate(); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid geojson payload")
			return
		}
		payload, err := json.Marshal(req.GeoJSON)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid geojson payload")
			return
		}
		fields["geo_json"] = datatypes.JSON(payload)
		featureCount = len(req.GeoJSON.Features)
	}
	if req.IsDraft != nil {
		fields["is_draft"] = *req.IsDraft
	}

	rec, err := s.store.UpdateMap(user.ID, id, fields)
	if err != nil {
		s.mapStoreError(w, err, user.ID)
		return
	}

	s.recordSave("update", rec, featureCount, time.Since(start))
	s.respondWithMap(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id, ok := s.mapID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteMap(user.ID, id); err != nil {
		s.mapStoreError(w, err, user.ID)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) mapID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid map id")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) mapModel(w http.ResponseWriter, userID uint, req mapRequest) (store.Map, bool) {
	if err := req.GeoJSON.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid geojson payload")
		return store.Map{}, false
	}
	payload, err := json.Marshal(req.GeoJSON)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid geojson payload")
		return store.Map{}, false
	}
	return store.Map{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Style:       req.Style,
		GeoJSON:     datatypes.JSON(payload),
		Lng:         req.Viewport.Longitude,
		Lat:         req.Viewport.Latitude,
		Zoom:        req.Viewport.Zoom,
		Bearing:     req.Viewport.Bearing,
		Pitch:       req.Viewport.Pitch,
		IsDraft:     req.IsDraft,
	}, true
}

func (s *Server) recordSave(kind string, rec store.Map, featureCount int, elapsed time.Duration) {
	if s.telemetry == nil {
		return
	}
	point := influx.SavePoint(kind, rec.IsDraft, featureCount, elapsed)
	if err := s.telemetry.WritePoint(context.Background(), influx.BucketSaveOps, point); err != nil {
		s.log.Warn().Err(err).Msg("failed to record save point")
	}
}

func (s *Server) mapStoreError(w http.ResponseWriter, err error, userID uint) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "map not found")
		return
	}
	s.log.Error().Err(err).Uint("user", userID).Msg("map store error")
	s.writeError(w, http.StatusInternalServerError, "map store error")
}

func (s *Server) respondWithMap(w http.ResponseWriter, status int, rec store.Map) {
	col := geojson.NewCollection()
	if len(rec.GeoJSON) > 0 {
		parsed, err := geojson.Decode(rec.GeoJSON)
		if err != nil {
			s.log.Error().Err(err).Uint("map", rec.ID).Msg("stored geojson is unreadable")
		} else {
			col = parsed
		}
	}

	s.writeJSON(w, status, api.MapRecord{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Style:       rec.Style,
		Viewport: engine.Viewport{
			Longitude: rec.Lng,
			Latitude:  rec.Lat,
			Zoom:      rec.Zoom,
			Bearing:   rec.Bearing,
			Pitch:     rec.Pitch,
		},
		GeoJSON:   col,
		IsDraft:   rec.IsDraft,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
}
