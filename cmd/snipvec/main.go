package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	openailib "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/snipvec/snipvec"
	"github.com/snipvec/snipvec/blobstore"
	miniostore "github.com/snipvec/snipvec/blobstore/minio"
	s3store "github.com/snipvec/snipvec/blobstore/s3"
	"github.com/snipvec/snipvec/config"
	"github.com/snipvec/snipvec/embed"
	openaiembed "github.com/snipvec/snipvec/embed/openai"
	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/index/flat"
	"github.com/snipvec/snipvec/index/pgvector"
	"github.com/snipvec/snipvec/index/qdrant"
	"github.com/snipvec/snipvec/metadata"
	"github.com/snipvec/snipvec/persistence"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath string
		dirFlag    string
	)

	rootCmd := &cobra.Command{
		Use:          "snipvec",
		Short:        "Semantic code snippet store",
		SilenceUsage: true,
		Long: `Snipvec stores code snippets together with embeddings of their
descriptions and finds them again by meaning rather than by keyword.
Configuration comes from snipvec.yaml and SNIPVEC_-prefixed environment
variables; flags override both.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default snipvec.yaml)")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Store directory (overrides config)")

	var (
		addDescription string
		addCode        string
		addCodeFile    string
		addLanguage    string
		addOwner       string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Store a snippet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(configPath, dirFlag, addDescription, addCode, addCodeFile, addLanguage, addOwner)
		},
	}
	addCmd.Flags().StringVar(&addDescription, "description", "", "What the snippet does")
	addCmd.Flags().StringVar(&addCode, "code", "", "Snippet body")
	addCmd.Flags().StringVar(&addCodeFile, "code-file", "", "Read the snippet body from a file")
	addCmd.Flags().StringVar(&addLanguage, "language", "", "Language tag")
	addCmd.Flags().StringVar(&addOwner, "owner", "", "Owner tag")
	_ = addCmd.MarkFlagRequired("description")

	var (
		searchK        int
		searchLanguage string
		searchJSON     bool
		searchShowCode bool
	)
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find snippets by meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(configPath, dirFlag, args[0], searchK, searchLanguage, searchJSON, searchShowCode)
		},
	}
	searchCmd.Flags().IntVar(&searchK, "k", 0, "Result count (default from config)")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "Only return snippets in this language")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")
	searchCmd.Flags().BoolVar(&searchShowCode, "code", false, "Print snippet bodies")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(configPath, dirFlag, args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(configPath, dirFlag, args[0])
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(configPath, dirFlag)
		},
	}

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop tombstoned metadata records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(configPath, dirFlag)
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Cross-check the snapshot artifacts without opening the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(configPath, dirFlag)
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Download the latest mirrored snapshot into the store directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(configPath, dirFlag)
		},
	}

	rootCmd.AddCommand(addCmd, searchCmd, getCmd, deleteCmd, statsCmd, compactCmd, verifyCmd, restoreCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configPath, dirFlag string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *snipvec.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return snipvec.NewLogger(handler)
}

func newEmbedder(cfg config.EmbedderConfig) (embed.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder needs api_key or OPENAI_API_KEY")
		}
		clientCfg := openailib.DefaultConfig(apiKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		return openaiembed.New(openailib.NewClientWithConfig(clientCfg), func(o *openaiembed.Options) {
			if cfg.Model != "" {
				o.Model = openailib.EmbeddingModel(cfg.Model)
			}
			o.Dimensions = cfg.Dimension
		})
	case "disabled":
		return embed.Disabled(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}

// newIndex returns nil for the flat backend; the store builds and
// persists its own flat index in that case.
func newIndex(ctx context.Context, cfg config.IndexConfig, dim int) (index.Index, error) {
	switch cfg.Backend {
	case "flat":
		return nil, nil
	case "qdrant":
		return qdrant.New(ctx, cfg.Qdrant.Addr, dim, func(o *qdrant.Options) {
			if cfg.Qdrant.Collection != "" {
				o.Collection = cfg.Qdrant.Collection
			}
			o.WaitWrites = cfg.Qdrant.WaitWrites
		})
	case "pgvector":
		return pgvector.Open(ctx, cfg.Postgres.DSN, dim, func(o *pgvector.Options) {
			if cfg.Postgres.Table != "" {
				o.Table = cfg.Postgres.Table
			}
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func newMirror(ctx context.Context, cfg config.MirrorConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "local":
		return blobstore.NewLocal(cfg.Path), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return s3store.New(awss3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
	case "minio":
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MinIO client: %w", err)
		}
		return miniostore.New(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*snipvec.Store, error) {
	embedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	optFns := []snipvec.Option{snipvec.WithLogger(newLogger(cfg.Log))}

	idx, err := newIndex(ctx, cfg.Index, embedder.Dimension())
	if err != nil {
		return nil, err
	}
	if idx != nil {
		optFns = append(optFns, snipvec.WithIndex(idx))
	} else {
		if cfg.Index.Mmap {
			optFns = append(optFns, snipvec.WithMmap())
		}
		if cfg.Index.InitialCapacity > 0 {
			optFns = append(optFns, snipvec.WithInitialCapacity(cfg.Index.InitialCapacity))
		}
	}

	mirror, err := newMirror(ctx, cfg.Mirror)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		optFns = append(optFns, snipvec.WithMirror(mirror))
		if cfg.Mirror.RateLimit > 0 {
			optFns = append(optFns, snipvec.WithMirrorRateLimit(cfg.Mirror.RateLimit))
		}
	}

	if cfg.Search.Overfetch > 0 {
		optFns = append(optFns, snipvec.WithOverfetchFactor(cfg.Search.Overfetch))
	}

	return snipvec.Open(ctx, cfg.Dir, embedder, optFns...)
}

func runAdd(configPath, dirFlag, description, code, codeFile, language, owner string) error {
	if (code == "") == (codeFile == "") {
		return fmt.Errorf("exactly one of --code or --code-file is required")
	}
	if codeFile != "" {
		raw, err := os.ReadFile(codeFile)
		if err != nil {
			return fmt.Errorf("reading code file: %w", err)
		}
		code = string(raw)
	}

	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.StoreSnippet(ctx, snipvec.Snippet{
		Code:        code,
		Description: description,
		Language:    language,
		Owner:       owner,
	})
	if err != nil {
		return err
	}

	fmt.Printf("stored snippet %d\n", id)
	return nil
}

func runSearch(configPath, dirFlag, query string, k int, language string, asJSON, showCode bool) error {
	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}
	if k == 0 {
		k = cfg.Search.K
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Search(query).KNN(k).Language(language).Execute(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		raw, err := gojson.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%6d  %8.4f  %-10s %s\n", r.ID, r.Distance, r.Language, r.Description)
		if showCode {
			fmt.Println(r.Code)
			fmt.Println()
		}
	}
	return nil
}

func runGet(configPath, dirFlag, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", rawID)
	}

	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snippet, err := store.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("id:          %d\n", id)
	fmt.Printf("description: %s\n", snippet.Description)
	if snippet.Language != "" {
		fmt.Printf("language:    %s\n", snippet.Language)
	}
	if snippet.Owner != "" {
		fmt.Printf("owner:       %s\n", snippet.Owner)
	}
	fmt.Println()
	fmt.Println(snippet.Code)
	return nil
}

func runDelete(configPath, dirFlag, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", rawID)
	}

	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted snippet %d\n", id)
	return nil
}

func runStats(configPath, dirFlag string) error {
	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := store.Stats()
	fmt.Printf("directory:   %s\n", cfg.Dir)
	fmt.Printf("dimension:   %d\n", stats.Dimension)
	fmt.Printf("live:        %d\n", stats.LiveEntries)
	fmt.Printf("tombstoned:  %d\n", stats.TombstonedEntries)
	fmt.Printf("total slots: %d\n", stats.TotalEntries)
	for _, lang := range store.Languages() {
		fmt.Printf("  %-10s %d\n", lang, stats.Languages[lang])
	}
	return nil
}

func runCompact(configPath, dirFlag string) error {
	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Compact(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("dropped %d tombstoned records\n", removed)
	return nil
}

// runVerify cross-checks the two snapshot artifacts against each other
// without going through the store, so it works on a directory that is
// not being served. It maps the vector blob read-only.
func runVerify(configPath, dirFlag string) error {
	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}
	if cfg.Index.Backend != "flat" {
		return fmt.Errorf("verify inspects local artifacts and needs the flat backend, not %q", cfg.Index.Backend)
	}

	vecPath := filepath.Join(cfg.Dir, snipvec.VectorsFile)
	idx, closer, err := flat.LoadFromFileMmap(vecPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", vecPath, err)
	}
	if closer != nil {
		defer closer.Close()
	}

	log := metadata.NewLog()
	metaPath := filepath.Join(cfg.Dir, snipvec.MetadataFile)
	if err := persistence.LoadFromFile(metaPath, func(r io.Reader) error {
		_, err := log.DecodeFrom(r)
		return err
	}); err != nil {
		return fmt.Errorf("reading %s: %w", metaPath, err)
	}

	fmt.Printf("vectors:  %d slots, %d live, dimension %d\n", idx.Len(), idx.Live(), idx.Dimension())
	fmt.Printf("metadata: %d records, %d live\n", log.Len(), log.Live())
	for lang, n := range log.CountByLanguage() {
		fmt.Printf("  %-10s %d\n", lang, n)
	}

	var problems []string
	if idx.Len() != log.Len() {
		problems = append(problems, fmt.Sprintf("slot count %d != record count %d", idx.Len(), log.Len()))
	}
	log.Range(func(rec metadata.Record) bool {
		if !rec.Deleted && !idx.Contains(rec.ID) {
			problems = append(problems, fmt.Sprintf("record %d is live but its vector is tombstoned or missing", rec.ID))
		}
		if rec.Deleted && idx.Contains(rec.ID) {
			problems = append(problems, fmt.Sprintf("record %d is deleted but its vector is still live", rec.ID))
		}
		return true
	})

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "mismatch: %s\n", p)
		}
		return fmt.Errorf("%d mismatches between %s and %s", len(problems), snipvec.VectorsFile, snipvec.MetadataFile)
	}
	fmt.Println("artifacts consistent")
	return nil
}

func runRestore(configPath, dirFlag string) error {
	cfg, err := loadConfig(configPath, dirFlag)
	if err != nil {
		return err
	}
	if cfg.Mirror.Backend == "none" {
		return fmt.Errorf("restore needs a mirror backend in the config")
	}

	ctx := context.Background()
	mirror, err := newMirror(ctx, cfg.Mirror)
	if err != nil {
		return err
	}

	if err := snipvec.RestoreFromMirror(ctx, mirror, cfg.Dir); err != nil {
		return err
	}
	fmt.Printf("restored snapshot into %s\n", cfg.Dir)
	return nil
}
