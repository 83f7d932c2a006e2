// @title           Knowledge Base API
// @version         1.0
// @description     Multi-tenant knowledge base service with asynchronous document ingestion and semantic retrieval

// @contact.name    me lol
// @contact.url
// @contact.email

// @license.name    Apache 2.0
// @license.url     http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:3000
// @BasePath  /
// @schemes   http https
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/akolanti/kbAPI/internal/auth"
	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/blobStore"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/data/store"
	jobmodel "github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/internal/handlers"
	"github.com/akolanti/kbAPI/internal/job"
	"github.com/akolanti/kbAPI/internal/mcp"
	"github.com/akolanti/kbAPI/internal/rag/embedding/googleEmbedding"
	"github.com/akolanti/kbAPI/internal/rag/ingest"
	"github.com/akolanti/kbAPI/internal/rag/retrieval"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB/qdrantDB"
	"github.com/akolanti/kbAPI/internal/reconcile"
	"github.com/akolanti/kbAPI/internal/server"
	"github.com/akolanti/kbAPI/internal/worker"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

var (
	listenAddr        string
	mcpMode           bool
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {

	logger_i.Init()
	var logger = logger_i.NewLogger("main")

	//config
	flag.StringVar(&listenAddr, "listen-addr", config.ServerListenAddr, "server listen address")
	flag.BoolVar(&mcpMode, "mcp", false, "serve retrieval over MCP stdio instead of HTTP")
	flag.Parse()

	//init buffered job channel
	jobChannel := make(chan jobmodel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//metadata store - postgres with an in-memory fallback for local runs
	var meta metaStore.MetadataStore
	if pg := metaStore.GetPostgresStore(serviceContext); pg != nil {
		meta = pg
	} else {
		logger.Warn("Postgres is offline, using the in-memory metadata store")
		meta = metaStore.InitInMemoryStore()
	}

	//blob store
	var blobs blobStore.BlobStore
	if m := blobStore.GetMinioStore(serviceContext); m != nil {
		blobs = m
	} else {
		logger.Warn("Minio is offline, using the in-memory blob store")
		blobs = blobStore.InitInMemoryBlobStore()
	}

	//job store
	var jobStore jobmodel.JobStore
	if rs := store.GetRedisJobStore(serviceContext); rs != nil {
		jobStore = rs
	} else {
		logger.Warn("Redis is offline, using the in-memory job store")
		jobStore = store.InitInMemoryJobStore()
	}

	logger.Info("Starting job service")
	jobService := job.InitJobService(job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
		JobStore:          jobStore,
	})

	vectorDB := qdrantDB.GetQuadrantClient(serviceContext)
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = config.GoogleEmbeddingAPIKey
	}
	embeddingService := googleEmbedding.GetGoogleEmbeddingClient(serviceContext, config.GoogleEmbeddingModel, apiKey)

	if vectorDB == nil || embeddingService == nil {
		logger.Error("One or more external services failed to initialize. Shutting down.")
		logger.Debug("Available services : ", "VectorDB", vectorDB != nil, "EmbeddingService", embeddingService != nil)
		return
	}

	bootstrapKey := os.Getenv("ADMIN_API_KEY")
	if bootstrapKey == "" {
		bootstrapKey = config.AdminBootstrapKey
	}
	authService := auth.NewService(meta, bootstrapKey)
	searchService := retrieval.NewService(meta, vectorDB, embeddingService)

	if mcpMode {
		runMcp(serviceContext, logger, authService, searchService, meta)
		return
	}

	pipeline := ingest.NewPipeline(meta, blobs, embeddingService, vectorDB)
	reconciler := reconcile.NewReconciler(meta, vectorDB, func(ctx context.Context, docId string) error {
		doc, err := meta.GetDocument(ctx, docId)
		if err != nil {
			return err
		}
		kb, err := meta.GetKnowledgeBase(ctx, doc.KbId)
		if err != nil {
			return err
		}
		return jobService.Enqueue(ctx, job.NewIndexJob(doc.Id, doc.KbId, kb.TenantId, ""))
	})

	handlers.InitHandlers(meta, blobs, jobService, authService, searchService)

	//init worker pool
	worker.InitServices(jobService, pipeline, reconciler)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)
	worker.StartSweepScheduler(stopWorkerChannel)

	//jobs that were queued or running when the last process died go back on the queue
	if redelivered, err := jobService.RedeliverUnfinished(serviceContext); err != nil {
		logger.Error("Job redelivery failed", "err", err)
	} else if redelivered > 0 {
		logger.Info("Redelivered unfinished jobs", "count", redelivered)
	}

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr)

	<-stopExecution
	logger.Info("Server stopped")
}

func runMcp(ctx context.Context, logger *logger_i.Logger, authService auth.Service, searchService retrieval.Service, meta metaStore.MetadataStore) {
	mcpServer, err := mcp.NewServer(ctx, authService, searchService, meta, os.Getenv("MCP_API_KEY"))
	if err != nil {
		logger.Error("MCP server failed to start", "err", err)
		return
	}
	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		logger.Error("MCP server stopped", "err", err)
	}
}
