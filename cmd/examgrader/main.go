package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/examgrader/internal/cache"
	"github.com/pavelanni/examgrader/internal/exam"
	"github.com/pavelanni/examgrader/internal/handler"
	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/importer"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/metrics"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgrader",
		Short: "Exam grading server with optional AI scoring of short answers",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), probeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to this file with size-based rotation (default stderr)")
}

func addAIFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("ai-enabled", false, "Enable AI grading of short answers")
	f.String("ai-provider", "openai", "AI provider ("+strings.Join(llm.Providers(), ", ")+")")
	f.String("ai-key", "", "API key for the AI provider")
	f.String("ai-url", "", "Provider endpoint URL (required for some providers)")
	f.String("ai-model", "", "Model name")
	f.Duration("ai-timeout", llm.DefaultTimeout, "Timeout of one provider request")
	f.Int("ai-max-retries", llm.DefaultMaxRetries, "Attempts per short answer")
	f.Float64("ai-temperature", llm.DefaultTemperature, "Sampling temperature")
	f.Int("ai-max-tokens", llm.DefaultMaxTokens, "Maximum tokens in a grading reply")
	f.Float64("ai-rate-limit", 0, "Outbound grading requests per second (0 = unlimited)")
	f.String("prompt-variant", string(prompts.Standard), "Grading prompt variant (strict, standard, lenient)")
	f.String("prompts-dir", "", "Directory with templates/system_<variant>.txt and templates/user.txt overriding the built-in prompts")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examgrader.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default language of API messages (en, zh)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /exam)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("session-ttl", 24*time.Hour, "Lifetime of teacher and admin login sessions")
	f.Duration("student-session-ttl", 4*time.Hour, "Lifetime of student exam sessions")
	f.String("admin-password", "", "Initial admin password (or set EXAMGRADER_ADMIN_PASSWORD)")
	f.String("redis-addr", "", "Redis address for caching the active test (empty disables caching)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("cache-ttl", 10*time.Minute, "How long the active test stays cached")
	addAIFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question banks from CSV or XLSX files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "examgrader.db", "SQLite database path")
	f.StringP("type", "t", "", "Question type of the files (single_choice, multiple_choice, true_false, fill_blank, short_answer)")
	f.StringP("bank", "b", "", "Bank name (default: file name without extension)")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export results as JSON, or one question bank as XLSX",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examgrader.db", "SQLite database path")
	f.Int64("bank", 0, "Export this question bank as XLSX instead of results")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the AI grading configuration and connectivity",
		RunE:  runProbe,
	}
	addAIFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	// A missing .env file is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgrader")
	v.AddConfigPath("/etc/examgrader")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func aiConfig(v *viper.Viper) llm.Config {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.Standard)
	}
	return llm.Config{
		Enabled:       v.GetBool("ai-enabled"),
		Provider:      v.GetString("ai-provider"),
		APIKey:        v.GetString("ai-key"),
		BaseURL:       v.GetString("ai-url"),
		Model:         v.GetString("ai-model"),
		Timeout:       v.GetDuration("ai-timeout"),
		MaxRetries:    v.GetInt("ai-max-retries"),
		Temperature:   float32(v.GetFloat64("ai-temperature")),
		MaxTokens:     v.GetInt("ai-max-tokens"),
		RateLimit:     v.GetFloat64("ai-rate-limit"),
		PromptVariant: prompts.Variant(variant),
	}
}

// newAIClient builds the grading client, loading prompt overrides when
// prompts-dir is set.
func newAIClient(v *viper.Viper) (*llm.Client, error) {
	var opts []llm.Option
	if dir := v.GetString("prompts-dir"); dir != "" {
		set, err := prompts.Load(os.DirFS(dir))
		if err != nil {
			return nil, fmt.Errorf("loading prompts from %s: %w", dir, err)
		}
		opts = append(opts, llm.WithPrompts(set))
	}
	return llm.New(aiConfig(v), opts...), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetSessionTTL(v.GetDuration("session-ttl"))
	db.SetStudentSessionTTL(v.GetDuration("student-session-ttl"))
	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	metrics.Init()

	ai, err := newAIClient(v)
	if err != nil {
		return err
	}

	var opts []exam.Option
	if addr := v.GetString("redis-addr"); addr != "" {
		rdb, err := cache.NewRedisClient(cmd.Context(), addr, v.GetString("redis-password"), v.GetInt("redis-db"))
		if err != nil {
			slog.Warn("redis unavailable, active test will not be cached", "addr", addr, "error", err)
		} else {
			defer rdb.Close()
			opts = append(opts, exam.WithCache(cache.New(rdb, v.GetDuration("cache-ttl"))))
			slog.Info("caching active test in redis", "addr", addr)
		}
	}
	svc := exam.New(db, ai, opts...)

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(db, svc, importer.New(db), ai, handler.Config{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"base_path", basePath,
			"ai_enabled", ai.Enabled(),
			"ai_provider", ai.Provider(),
			"ai_model", ai.Model(),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	// Submissions with AI grading may still be waiting on the provider.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	qtype := model.QuestionType(v.GetString("type"))
	if !qtype.Valid() {
		return fmt.Errorf("unknown question type %q", qtype)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	im := importer.New(db)

	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rep, err := im.Import(importer.Request{
			BankName: v.GetString("bank"),
			Type:     qtype,
			Filename: filepath.Base(path),
			Data:     data,
		})
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		for _, e := range rep.Errors {
			slog.Warn("rejected row", "file", path, "row", e.Row, "reason", e.Message)
		}
		if rep.Status == importer.StatusFailed {
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d of %d rows imported into %q\n",
			path, rep.Status, rep.Imported, rep.Rows, rep.BankName)
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) had no valid rows", failed)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var data []byte
	if bankID := v.GetInt64("bank"); bankID != 0 {
		data, _, err = importer.New(db).ExportBank(bankID)
		if err != nil {
			return fmt.Errorf("export bank: %w", err)
		}
	} else {
		results, err := db.ExportResults()
		if err != nil {
			return fmt.Errorf("export results: %w", err)
		}
		data, err = json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		data = append(data, '\n')
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func runProbe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	client, err := newAIClient(v)
	if err != nil {
		return err
	}
	if !client.Enabled() {
		return fmt.Errorf("AI grading is not configured: %s", client.Status())
	}
	ok, msg := client.Probe(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", client.Provider(), client.Model(), msg)
	if !ok {
		return errors.New("probe failed")
	}
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or EXAMGRADER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
