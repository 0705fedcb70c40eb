package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/alert"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/audit"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/bridge"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/httputil"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/metrics"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/patterns"
)

const Version = "0.1.0"

// analyzeRequest is the POST /analyze body. A zero timestamp means the
// receive time and a zero size means the content length.
type analyzeRequest struct {
	SenderID    string `json:"senderId"`
	ReceiverID  string `json:"receiverId"`
	Content     string `json:"content"`
	Direction   string `json:"direction"`
	TimestampMs int64  `json:"timestampMs"`
	SizeBytes   int    `json:"sizeBytes"`
}

func (r analyzeRequest) message() detect.Message {
	m := detect.Message{
		SenderID:   strings.TrimSpace(r.SenderID),
		ReceiverID: strings.TrimSpace(r.ReceiverID),
		Content:    r.Content,
		Direction:  detect.DirectionReceived,
		SizeBytes:  r.SizeBytes,
	}
	if r.Direction == string(detect.DirectionSent) {
		m.Direction = detect.DirectionSent
	}
	if r.TimestampMs > 0 {
		m.Timestamp = time.UnixMilli(r.TimestampMs).UTC()
	}
	return m
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err == nil {
		log.Println("[STARTUP] environment loaded from .env")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := config.GetEnv("BTIDS_HTTP_PORT", "3000")
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServe(port)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: gateway analyze <text>")
			os.Exit(1)
		}
		runCLIAnalyze(strings.Join(os.Args[2:], " "))
	case "summary":
		runSummary()
	case "rules":
		listRules()
	case "version":
		fmt.Printf("BT-IDS Gateway v%s\n", Version)
		fmt.Println("Hybrid intrusion detection for Bluetooth mesh chat")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("BT-IDS Gateway v%s - hybrid intrusion detection for Bluetooth chat\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  gateway serve [port]     Start the HTTP gateway (default: 3000)")
	fmt.Println("  gateway analyze <text>   Analyze one message and print the verdict")
	fmt.Println("  gateway summary          Fetch the attack summary from a running gateway")
	fmt.Println("  gateway rules            List loaded detection rules by category")
	fmt.Println("  gateway version          Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  gateway serve 8080")
	fmt.Println("  gateway analyze \"URGENT: verify your account now at http://x.co\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  BTIDS_SINKS            Notification sinks: log, redis, kafka, postgres, webhook")
	fmt.Println("  BTIDS_RULES_PATH       Path to a rules.yaml override")
	fmt.Println("  BTIDS_MODEL_PATH       Path to an ONNX classifier model")
	fmt.Println("  BTIDS_MQTT_BROKER      MQTT broker for the chat ingest bridge")
	fmt.Println("  BTIDS_WS_FEED_URL      WebSocket firehose for the chat ingest bridge")
	fmt.Println("  BTIDS_CLICKHOUSE_ADDR  ClickHouse address for the audit trail")
	fmt.Println("  BTIDS_METRICS_ENABLED  Serve Prometheus metrics (default: false)")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runServe(port string) {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	// Explicit rules path wins, otherwise search near the working directory.
	if cfg.RulesPath == "" {
		if p, ok := patterns.FindRulesFile(); ok {
			cfg.RulesPath = p
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := metrics.NewServer(metrics.LoadConfig())
	_ = metricsServer.Start(ctx)

	sinks, err := alert.BuildSinks(cfg.Sinks)
	if err != nil {
		log.Fatalf("configure sinks: %v", err)
	}
	dispatcher := alert.NewDispatcher(cfg.NotifyQueueSize, sinks...)
	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("start notification dispatcher: %v", err)
	}

	engine, err := detect.NewEngine(cfg, detect.WithPublisher(dispatcher))
	if err != nil {
		log.Fatalf("start detection engine: %v", err)
	}
	if engine.ClassifierReady() {
		log.Printf("✓ classifier enabled (%s)", engine.ClassifierName())
	} else {
		log.Println("○ classifier disabled (rules-only analysis)")
	}

	var recorder *audit.Recorder
	if acfg := audit.LoadConfig(); acfg.Enabled() {
		recorder = audit.NewRecorder(acfg)
		if err := recorder.Start(ctx); err != nil {
			log.Printf("○ audit trail disabled (start failed: %v)", err)
			recorder = nil
		} else {
			log.Println("✓ audit trail enabled (ClickHouse)")
		}
	} else {
		log.Println("○ audit trail disabled (no ClickHouse address)")
	}

	// Shared by the HTTP handler and both ingest bridges.
	analyze := func(ctx context.Context, msg detect.Message) (detect.AnalysisResult, error) {
		res, err := engine.Analyze(ctx, msg)
		if err == nil && recorder != nil {
			recorder.Record(res)
		}
		return res, err
	}

	bridgeHandler := func(msg detect.Message) {
		if _, err := analyze(ctx, msg); err != nil {
			log.Printf("[WARN] bridge message rejected: %v", err)
		}
	}

	var mqttBridge *bridge.MQTTBridge
	if mcfg := bridge.LoadMQTTConfig(); mcfg.Enabled() {
		mqttBridge = bridge.NewMQTTBridge(mcfg, bridgeHandler)
		if err := mqttBridge.Start(ctx); err != nil {
			log.Printf("○ mqtt bridge disabled (start failed: %v)", err)
			mqttBridge = nil
		} else {
			log.Println("✓ mqtt bridge enabled")
		}
	} else {
		log.Println("○ mqtt bridge disabled (no broker configured)")
	}

	var wsFeed *bridge.WSFeed
	if url := bridge.WSFeedURL(); url != "" {
		wsFeed = bridge.NewWSFeed(url, bridgeHandler)
		if err := wsFeed.Start(); err != nil {
			log.Printf("○ ws feed disabled (start failed: %v)", err)
			wsFeed = nil
		} else {
			log.Println("✓ ws feed enabled")
		}
	} else {
		log.Println("○ ws feed disabled (no feed url configured)")
	}

	sem := httputil.NewSemaphore(cfg.MaxConcurrentAnalyze)

	app := fiber.New(fiber.Config{
		AppName: "BT-IDS Gateway",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":          "ok",
			"version":         Version,
			"classifier":      engine.ClassifierName(),
			"classifierReady": engine.ClassifierReady(),
			"trackedDevices":  engine.TrackedDevices(),
			"analyze":         sem.Stats(),
		})
	})

	app.Post("/analyze", func(c fiber.Ctx) error {
		var req analyzeRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if strings.TrimSpace(req.SenderID) == "" {
			return c.Status(400).JSON(fiber.Map{"error": "senderId field is required"})
		}

		if !sem.TryAcquire() {
			c.Set("Retry-After", "1")
			return c.Status(503).JSON(fiber.Map{"error": "analyzer at capacity"})
		}
		defer sem.Release()

		res, err := analyze(c.Context(), req.message())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	app.Get("/stats/:sender", func(c fiber.Ctx) error {
		stats, ok := engine.DeviceStats(c.Params("sender"))
		if !ok {
			return c.Status(404).JSON(fiber.Map{"error": "unknown device"})
		}
		return c.JSON(stats)
	})

	app.Get("/summary", func(c fiber.Ctx) error {
		return c.JSON(engine.Summary())
	})

	app.Delete("/device/:sender", func(c fiber.Ctx) error {
		sender := c.Params("sender")
		return c.JSON(fiber.Map{
			"senderId": sender,
			"cleared":  engine.ClearDevice(sender),
		})
	})

	app.Post("/reset", func(c fiber.Ctx) error {
		engine.Reset()
		return c.JSON(fiber.Map{"status": "reset"})
	})

	log.Printf("BT-IDS gateway starting on :%s", port)
	log.Printf("Endpoints:")
	log.Printf("  GET    /health          - Health and classifier status")
	log.Printf("  POST   /analyze         - Analyze one chat message")
	log.Printf("  GET    /stats/:sender   - Windowed stats for one device")
	log.Printf("  GET    /summary         - Attack counters across all devices")
	log.Printf("  DELETE /device/:sender  - Forget a device")
	log.Printf("  POST   /reset           - Clear all detection state")

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("[SHUTDOWN] signal received, draining...")
	if err := app.Shutdown(); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}

	// Intake first, then the engine, then the outbound queues.
	if mqttBridge != nil {
		mqttBridge.Close()
	}
	if wsFeed != nil {
		wsFeed.Stop()
	}
	engine.Close()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("[WARN] audit close: %v", err)
		}
	}
	if err := dispatcher.Close(); err != nil {
		log.Printf("[WARN] dispatcher close: %v", err)
	}
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = metricsServer.Shutdown(shutdownCtx)

	stats := dispatcher.Stats()
	log.Printf("[SHUTDOWN] complete (notifications enqueued=%d delivered=%d dropped=%d)",
		stats.Enqueued, stats.Delivered, stats.Dropped)
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIAnalyze(text string) {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()
	if cfg.RulesPath == "" {
		if p, ok := patterns.FindRulesFile(); ok {
			cfg.RulesPath = p
		}
	}

	engine, err := detect.NewEngine(cfg)
	if err != nil {
		log.Fatalf("start detection engine: %v", err)
	}
	defer engine.Close()

	res, err := engine.Analyze(context.Background(), detect.Message{
		SenderID: "cli",
		Content:  text,
	})
	if err != nil {
		log.Fatal(err)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

func runSummary() {
	base := strings.TrimSuffix(config.GetEnv("BTIDS_GATEWAY_URL", "http://localhost:3000"), "/")

	resp, err := httputil.ProbeClient().Get(base + "/summary")
	if err != nil {
		log.Fatalf("gateway unreachable at %s: %v", base, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != 200 {
		body, _ := httputil.ReadErrorBody(resp.Body)
		log.Fatalf("gateway returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		log.Fatal(err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}

func listRules() {
	reg := patterns.Get()

	path := config.GetEnv("BTIDS_RULES_PATH", "")
	if path == "" {
		path, _ = patterns.FindRulesFile()
	}
	if path != "" {
		added, err := reg.LoadFromFile(path)
		if err != nil {
			log.Printf("[WARN] rules file %s: %v", path, err)
		} else if added > 0 {
			fmt.Printf("Loaded %d custom rules from %s\n\n", added, path)
		}
	}

	fmt.Printf("Detection rules (%d total):\n\n", reg.TotalPatterns())
	for _, cat := range patterns.AttackCategories() {
		fmt.Printf("  %-11s %d patterns\n", cat, reg.CategoryCount(cat))
	}
	fmt.Println()
	for _, cat := range []patterns.Category{patterns.CategoryCommand, patterns.CategoryCredential, patterns.CategoryURL} {
		fmt.Printf("  %-11s %d signals\n", cat, reg.CategoryCount(cat))
	}
	fmt.Printf("  %-11s %d phrases\n", patterns.CategorySafe, reg.CategoryCount(patterns.CategorySafe))
}
