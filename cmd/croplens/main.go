package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/croplens/croplens/internal/analysis"
	"github.com/croplens/croplens/internal/aoi"
	"github.com/croplens/croplens/internal/api"
	"github.com/croplens/croplens/internal/insight"
	"github.com/croplens/croplens/internal/sentinel"
	"github.com/croplens/croplens/internal/store"
)

func main() {
	port := flag.String("port", "8080", "HTTP server port")
	providerURL := flag.String("provider-url", "", "imagery provider base URL (default Sentinel Hub)")
	flag.Parse()

	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	mongoURI := getenv("MONGO_URI", "mongodb://localhost:27017")
	mongoDB := getenv("MONGO_DB", "croplens")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		cancel()
		log.Fatalf("mongo connect: %v", err)
	}
	st, err := store.New(ctx, client, mongoDB)
	cancel()
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer client.Disconnect(context.Background())

	broker := sentinel.NewTokenBroker(sentinel.Credentials{
		ClientID:     os.Getenv("SH_CLIENT_ID"),
		ClientSecret: os.Getenv("SH_CLIENT_SECRET"),
		TokenURL:     os.Getenv("SH_TOKEN_URL"),
	})
	catalog := sentinel.NewCatalogClient(broker, *providerURL)
	raster := sentinel.NewRasterProcessor(broker, *providerURL)

	resolver := aoi.NewResolver(st)
	composer := insight.NewComposer(catalog, insight.DefaultPolicy())
	orchestrator := analysis.NewOrchestrator(resolver, composer, raster, st)

	server := api.NewServer(orchestrator, *port, os.Getenv("JWT_SECRET"))

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting server on :%s", *port)
	if err := server.Run(runCtx); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
