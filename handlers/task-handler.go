package handlers

import (
	"net/http"

	"milestone-project/milestones-service/services"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TaskHandler struct {
	Service *services.TaskService
}

func NewTaskHandler(service *services.TaskService) *TaskHandler {
	return &TaskHandler{Service: service}
}

func taskID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	vars := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(vars["taskId"])
	if err != nil {
		respondError(w, &services.ValidationError{Message: "invalid task ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func (h *TaskHandler) GetTasksForMilestone(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	mid, ok := milestoneID(w, r)
	if !ok {
		return
	}

	tasks, err := h.Service.GetTasksForMilestone(r.Context(), mid)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) AttachTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	mid, ok := milestoneID(w, r)
	if !ok {
		return
	}
	tid, ok := taskID(w, r)
	if !ok {
		return
	}

	if err := h.Service.AttachTask(r.Context(), actor.UserID, actor.Role, mid, tid); err != nil {
		respondError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "task attached to milestone")
}

func (h *TaskHandler) DetachTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	mid, ok := milestoneID(w, r)
	if !ok {
		return
	}
	tid, ok := taskID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DetachTask(r.Context(), actor.UserID, actor.Role, mid, tid); err != nil {
		respondError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "task detached from milestone")
}
