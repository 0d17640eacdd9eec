package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/flashka/internal/events"
	"github.com/zombor/flashka/internal/lookup"
	"github.com/zombor/flashka/internal/scanning"
	"github.com/zombor/flashka/internal/shopping"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env only fills variables that are not already set
	envFile := os.Getenv("FLASHKA_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", envFile, err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("flashka")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "flashka.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./captures", "Captured image directory")
		scannerType   = fs.StringLong("scanner", "gemini", "Text source: 'gemini', 'ollama' or 'none'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		imageTimeout  = fs.DurationLong("image-timeout", 30*time.Second, "Image recognition timeout")
		speechTimeout = fs.DurationLong("speech-timeout", 5*time.Second, "Speech recognition timeout")
		maxSpeech     = fs.DurationLong("max-speech", 10*time.Second, "Longest accepted WAV capture")
		preprocess    = fs.BoolLong("preprocess", "Grayscale and boost contrast before recognition")
		contrast      = fs.Float64Long("contrast", scanning.DefaultPreprocess.Contrast, "Preprocess contrast adjustment, -100..100")
		threshold     = fs.IntLong("threshold", 0, "Preprocess binarisation threshold, 0 disables")
		lookupURL     = fs.StringLong("lookup-url", "https://world.openfoodfacts.org", "Product lookup base URL, empty disables barcode lookup")
		lookupTimeout = fs.DurationLong("lookup-timeout", 10*time.Second, "Product lookup timeout")
		redisAddr     = fs.StringLong("redis-addr", "", "Redis address for the product cache (optional)")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		cacheTTL      = fs.DurationLong("cache-ttl", 7*24*time.Hour, "Product cache TTL")
		kafkaBrokers  = fs.StringLong("kafka-brokers", "", "Comma separated Kafka brokers for ledger events (optional)")
		kafkaTopic    = fs.StringLong("kafka-topic", "flashka.ledger", "Kafka topic for ledger events")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug         = fs.BoolLong("debug", "Enable debug logging")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FLASHKA"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := shopping.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pre := scanning.Preprocess{
		Enabled:   *preprocess,
		Contrast:  *contrast,
		Threshold: uint8(min(max(*threshold, 0), 255)),
	}

	var sources shopping.Sources
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini text source...", "model", *geminiModel)
		gemini, err := scanning.NewGemini(scanning.GeminiConfig{
			APIKey:            apiKey,
			Model:             *geminiModel,
			ImageTimeout:      *imageTimeout,
			SpeechTimeout:     *speechTimeout,
			MaxSpeechDuration: *maxSpeech,
			Preprocess:        pre,
		})
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		sources.Images = gemini
		sources.Speech = gemini
	case "ollama":
		slog.Info("Initializing Ollama text source...", "url", *ollamaURL, "model", *ollamaModel)
		ollama, err := scanning.NewOllama(*ollamaURL, *ollamaModel, *imageTimeout, pre)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		defer ollama.Close()
		sources.Images = ollama
		slog.Warn("Ollama has no speech support, speech capture disabled")
	case "none":
		slog.Warn("No text source configured, only typed text and barcodes are accepted")
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}

	if *lookupURL != "" {
		var products lookup.ProductLookup = lookup.NewOpenFoodFacts(*lookupURL, "flashka/"+version, *lookupTimeout)
		if *redisAddr != "" {
			client, err := lookup.NewRedisClient(ctx, *redisAddr, *redisPassword, *redisDB)
			if err != nil {
				slog.Error("Failed to connect to redis", "addr", *redisAddr, "error", err)
				os.Exit(1)
			}
			defer client.Close()
			products = lookup.NewCache(products, client, *cacheTTL)
			slog.Info("Product cache enabled", "addr", *redisAddr, "ttl", *cacheTTL)
		}
		sources.Products = products
	}

	var publisher events.Publisher = events.Nop{}
	if *kafkaBrokers != "" {
		brokers := strings.Split(*kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		publisher = events.NewKafkaPublisher(brokers, *kafkaTopic)
		slog.Info("Publishing ledger events", "brokers", brokers, "topic", *kafkaTopic)
	}
	defer publisher.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := shopping.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := shopping.NewService(db, store, sources, publisher)
	server := shopping.NewServer(service, shopping.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}
