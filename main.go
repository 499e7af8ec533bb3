package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"milestone-project/milestones-service/handlers"
	"milestone-project/milestones-service/logging"
	"milestone-project/milestones-service/middleware"
	"milestone-project/milestones-service/services"
	"milestone-project/milestones-service/utils"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createMilestoneIndexes(collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.M{"projectId": 1}},
		// The delete-integrity check counts incoming dependency edges on
		// every delete, so this one matters.
		{Keys: bson.M{"dependencyIds": 1}},
	}
	_, err := collection.Indexes().CreateMany(context.TODO(), indexes)
	if err != nil {
		return fmt.Errorf("failed to create milestone indexes: %v", err)
	}
	return nil
}

func main() {
	logging.InitLogger()
	logging.Logger.Info("Event ID: SERVICE_START, Description: Starting Milestones Service...")

	if err := godotenv.Load(".env"); err != nil {
		logging.Logger.Warnf("Event ID: ENV_LOAD_WARNING, Description: No .env file loaded: %v", err)
	}

	mongoURI := os.Getenv("MONGO_URI")
	mongoDBName := os.Getenv("MONGO_DB_NAME")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		logging.Logger.Fatalf("Event ID: DB_CONNECTION_FAILED, Description: Database connection for MongoDB failed: %v", err)
	}
	// The connect context is long expired by shutdown, so disconnect gets
	// its own.
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logging.Logger.Warnf("Event ID: DB_DISCONNECT_FAILED, Description: MongoDB disconnect error: %v", err)
		}
	}()

	if err := client.Ping(ctx, nil); err != nil {
		logging.Logger.Fatalf("Event ID: DB_PING_FAILED, Description: MongoDB connection ping error: %v", err)
	}
	logging.Logger.Infof("Event ID: DB_CONNECTED, Description: Successfully connected to MongoDB at %s.", mongoURI)

	db := client.Database(mongoDBName)
	milestonesCollection := db.Collection("milestones")
	tasksCollection := db.Collection("tasks")
	projectsCollection := db.Collection("projects")

	if err := createMilestoneIndexes(milestonesCollection); err != nil {
		logging.Logger.Fatalf("Event ID: DB_INDEX_FAILED, Description: %v", err)
	}

	activityBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ActivityLogCB",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Infof("Event ID: CIRCUIT_BREAKER_STATE_CHANGE, Description: Circuit Breaker '%s' changed from '%s' to '%s'", name, from.String(), to.String())
		},
	})

	var activity *services.ActivityLogger
	if activityURL := os.Getenv("ACTIVITY_LOG_URL"); activityURL != "" {
		activity = services.NewActivityLogger(utils.NewHTTPClient(), activityBreaker, activityURL)
	} else {
		logging.Logger.Warn("Event ID: ACTIVITY_LOG_DISABLED, Description: ACTIVITY_LOG_URL is not set, audit events will be dropped.")
	}

	milestoneService := services.NewMilestoneService(milestonesCollection, tasksCollection, projectsCollection, activity)
	taskService := services.NewTaskService(tasksCollection, milestonesCollection, activity)

	milestoneHandler := handlers.NewMilestoneHandler(milestoneService)
	taskHandler := handlers.NewTaskHandler(taskService)

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.JWTAuthMiddleware)

	api.HandleFunc("/milestones", milestoneHandler.ListMilestones).Methods("GET")
	api.HandleFunc("/milestones", milestoneHandler.CreateMilestone).Methods("POST")
	api.HandleFunc("/milestones/{id}", milestoneHandler.GetMilestoneByID).Methods("GET")
	api.HandleFunc("/milestones/{id}", milestoneHandler.UpdateMilestone).Methods("PUT")
	api.HandleFunc("/milestones/{id}", milestoneHandler.DeleteMilestone).Methods("DELETE")
	api.HandleFunc("/milestones/{id}/approve", milestoneHandler.ApproveMilestone).Methods("PUT")
	api.HandleFunc("/milestones/{id}/progress", milestoneHandler.UpdateProgress).Methods("PUT")
	api.HandleFunc("/milestones/{id}/tasks", taskHandler.GetTasksForMilestone).Methods("GET")
	api.HandleFunc("/milestones/{id}/tasks/{taskId}", taskHandler.AttachTask).Methods("PUT")
	api.HandleFunc("/milestones/{id}/tasks/{taskId}", taskHandler.DetachTask).Methods("DELETE")

	corsRouter := middleware.EnableCORS(r)

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		logging.Logger.Fatalf("Event ID: CONFIG_ERROR, Description: SERVER_PORT is not set in the environment variables.")
	}

	serverAddress := fmt.Sprintf(":%s", serverPort)
	logging.Logger.Infof("Event ID: SERVER_START_INFO, Description: Server running on http://localhost%s", serverAddress)

	if err := http.ListenAndServe(serverAddress, corsRouter); err != nil {
		logging.Logger.Fatalf("Event ID: SERVER_FATAL_ERROR, Description: Server failed to start: %v", err)
	}
}
