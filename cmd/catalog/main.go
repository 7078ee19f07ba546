package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"MiniCatalog/internal/blob"
	"MiniCatalog/internal/catalog"
	"MiniCatalog/pkg/kit"
)

const startupTimeout = 10 * time.Second

func main() {
	service := "catalog"
	log := kit.NewLogger(service)
	defer func() { _ = log.Sync() }()

	port := getenv("PORT", "3000")

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	sink, uploadDir, err := openSink(ctx)
	if err != nil {
		log.Fatal("blob sink init failed", zap.Error(err))
	}

	s := &catalog.Server{Store: store, Blobs: sink, Log: log}

	registry := prometheus.NewRegistry()
	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       registry,
		MetricsEnabled: getenv("METRICS_ENABLED", "") == "true",
		MetricsToken:   getenv("METRICS_TOKEN", ""),
		UploadDir:      uploadDir,
	})

	if err := kit.RunHTTPServer(":"+port, h, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, log *zap.Logger) (catalog.Store, func(), error) {
	driver := getenv("STORE_DRIVER", "memory")

	switch driver {
	case "mongo":
		uri := getenv("MONGODB_URI", "mongodb://localhost:27017")
		client, err := mongo.Connect(ctx, options.Client().
			ApplyURI(uri).
			SetConnectTimeout(5*time.Second))
		if err != nil {
			return nil, nil, err
		}

		st := catalog.NewMongoStore(client, getenv("MONGODB_DB", "catalog"))
		if err := st.Ping(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}

		log.Info("mongo store ready")
		return st, func() { _ = client.Disconnect(context.Background()) }, nil

	case "postgres":
		db, err := sql.Open("pgx", getenv("DATABASE_URL", "postgres://localhost:5432/catalog"))
		if err != nil {
			return nil, nil, err
		}

		st := catalog.NewPostgresStore(db)
		if err := st.Ping(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		log.Info("postgres store ready")
		return st, func() { _ = db.Close() }, nil

	default:
		log.Info("memory store ready")
		return catalog.NewMemStore(), func() {}, nil
	}
}

func openSink(ctx context.Context) (blob.Sink, string, error) {
	if getenv("BLOB_DRIVER", "local") == "s3" {
		sink, err := blob.NewS3Sink(ctx, blob.S3Config{
			Bucket:   getenv("S3_BUCKET", ""),
			Region:   getenv("S3_REGION", "us-east-1"),
			Endpoint: getenv("S3_ENDPOINT", ""),
			Key:      getenv("S3_KEY", ""),
			Secret:   getenv("S3_SECRET", ""),
			Prefix:   getenv("S3_PREFIX", "uploads"),
		})
		return sink, "", err
	}

	dir := getenv("UPLOAD_DIR", "uploads")
	sink, err := blob.NewLocalSink(dir)
	return sink, dir, err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
