package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ticket-triage/internal/config"
	"ticket-triage/internal/db"
	"ticket-triage/internal/embedding"
	"ticket-triage/internal/helper"
	"ticket-triage/internal/llmservice"
	"ticket-triage/internal/models"
	"ticket-triage/internal/pipeline"
	"ticket-triage/internal/processor"
	"ticket-triage/internal/queue"
	"ticket-triage/internal/responder"
	"ticket-triage/internal/scraper"
	"ticket-triage/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}

	configPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	initSchema := flag.Bool("init", false, "Create database tables and queues, then exit")
	scrape := flag.Bool("scrape", false, "Crawl the documentation hosts and store changed pages")
	embed := flag.Bool("embed", false, "Drain one batch of embedding jobs")
	classify := flag.Bool("classify", false, "Drain one batch of classification jobs")
	ingest := flag.String("ingest", "", "Comma-separated knowledge-base files to ingest")
	refCategory := flag.String("ref-category", "", "Reference category to seed (topic, sentiment, priority)")
	refLabel := flag.String("ref-label", "", "Reference label to seed")
	ticketSubject := flag.String("ticket-subject", "", "Subject of a ticket to enqueue")
	ticketDesc := flag.String("ticket-desc", "", "Description of a ticket to enqueue")
	serve := flag.Bool("serve", false, "Run the HTTP pipeline server")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	bunDB := db.NewDB(sqldb, cfg.Database.Debug)
	defer bunDB.Close()

	pgq := queue.NewPGMQ(bunDB)

	if *initSchema {
		if err := db.InitDB(ctx, bunDB); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		if err := pgq.CreateQueues(ctx, models.QueueEmbeddings, models.QueueClassifications); err != nil {
			log.Fatal().Err(err).Msg("Error creating queues")
		}
		log.Info().Msg("Database initialized")
		return
	}

	store := db.NewStore(bunDB)
	embedder := embedding.NewClient(cfg.Embedding, log.Logger)

	llm, err := llmservice.NewClient(cfg.Generation)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating LLM client")
	}

	crawl := scraper.NewScraper(cfg.Crawler, log.Logger)
	proc := processor.NewProcessor(store, pgq, cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap, log.Logger)
	draft := responder.New(llm, log.Logger)
	pipe := pipeline.New(store, pgq, embedder, crawl, proc, draft, cfg.Pipeline, log.Logger)

	switch {
	case *scrape:
		summary, err := pipe.RunScrape(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Scrape failed")
		}
		helper.PrettyPrint(summary)

	case *ingest != "":
		summary, err := pipe.RunIngest(ctx, strings.Split(*ingest, ","))
		if err != nil {
			log.Fatal().Err(err).Msg("Ingest failed")
		}
		helper.PrettyPrint(summary)

	case *embed:
		summary, err := pipe.RunEmbeddingBatch(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Embedding batch failed")
		}
		helper.PrettyPrint(summary)

	case *classify:
		summary, err := pipe.RunClassificationBatch(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Classification batch failed")
		}
		helper.PrettyPrint(summary)

	case *refCategory != "" || *refLabel != "":
		if *refCategory == "" || *refLabel == "" {
			log.Fatal().Msg("Both -ref-category and -ref-label are required")
		}
		if err := pipe.SeedReference(ctx, *refCategory, *refLabel); err != nil {
			log.Fatal().Err(err).Msg("Seeding reference failed")
		}
		log.Info().Str("category", *refCategory).Str("label", *refLabel).Msg("Reference seeded")

	case *ticketSubject != "":
		ticket, err := pipe.EnqueueTicket(ctx, *ticketSubject, *ticketDesc)
		if err != nil {
			log.Fatal().Err(err).Msg("Enqueueing ticket failed")
		}
		helper.PrettyPrint(ticket)

	case *serve:
		srv := server.New(cfg.Server, pipe, log.Logger)
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}

	default:
		log.Fatal().Msg("Provide one of -init, -scrape, -ingest, -embed, -classify, -ref-category/-ref-label, -ticket-subject or -serve")
	}
}
