package handlers

import (
	"encoding/json"
	"net/http"

	"milestone-project/milestones-service/logging"
	"milestone-project/milestones-service/middleware"
	"milestone-project/milestones-service/models"
	"milestone-project/milestones-service/services"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MilestoneHandler struct {
	Service *services.MilestoneService
}

func NewMilestoneHandler(service *services.MilestoneService) *MilestoneHandler {
	return &MilestoneHandler{Service: service}
}

func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, &services.UnauthorizedError{Message: "authentication required"})
		return middleware.Identity{}, false
	}
	return id, true
}

func milestoneID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	vars := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(vars["id"])
	if err != nil {
		respondError(w, &services.ValidationError{Message: "invalid milestone ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func (h *MilestoneHandler) CreateMilestone(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var payload models.MilestoneCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, &services.ValidationError{Message: "invalid request payload"})
		return
	}

	milestone, err := h.Service.CreateMilestone(r.Context(), actor.UserID, actor.Role, payload)
	if err != nil {
		respondError(w, err)
		return
	}

	logging.Logger.Infof("Event ID: MILESTONE_CREATED, Description: Milestone %s created by %s", milestone.ID.Hex(), actor.UserID)
	respondJSON(w, http.StatusCreated, milestone)
}

func (h *MilestoneHandler) GetMilestoneByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	id, ok := milestoneID(w, r)
	if !ok {
		return
	}

	milestone, err := h.Service.GetMilestoneByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, milestone)
}

func (h *MilestoneHandler) ListMilestones(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}

	var projectID *primitive.ObjectID
	if raw := r.URL.Query().Get("projectId"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			respondError(w, &services.ValidationError{Message: "invalid projectId filter"})
			return
		}
		projectID = &id
	}

	milestones, err := h.Service.ListMilestones(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, milestones)
}

func (h *MilestoneHandler) UpdateMilestone(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := milestoneID(w, r)
	if !ok {
		return
	}

	var payload models.MilestoneUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, &services.ValidationError{Message: "invalid request payload"})
		return
	}

	milestone, err := h.Service.UpdateMilestone(r.Context(), actor.UserID, actor.Role, id, payload)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, milestone)
}

func (h *MilestoneHandler) DeleteMilestone(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := milestoneID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteMilestone(r.Context(), actor.UserID, actor.Role, id); err != nil {
		respondError(w, err)
		return
	}

	logging.Logger.Infof("Event ID: MILESTONE_DELETED, Description: Milestone %s deleted by %s", id.Hex(), actor.UserID)
	respondMessage(w, http.StatusOK, "milestone deleted")
}

func (h *MilestoneHandler) ApproveMilestone(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := milestoneID(w, r)
	if !ok {
		return
	}

	approvedBy, err := h.Service.ApproveMilestone(r.Context(), actor.UserID, actor.Role, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"approvedBy": approvedBy})
}

func (h *MilestoneHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := milestoneID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Progress *int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Progress == nil {
		respondError(w, &services.ValidationError{Message: "progress is required"})
		return
	}

	milestone, err := h.Service.UpdateProgress(r.Context(), actor.UserID, actor.Role, id, *payload.Progress)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, milestone)
}
