package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/threatcanvas/core/application/importer"
	"github.com/threatcanvas/core/application/inference"
	"github.com/threatcanvas/core/application/store"
	"github.com/threatcanvas/core/domain/events"
	"github.com/threatcanvas/core/domain/preset"
	"github.com/threatcanvas/core/infrastructure/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:], logger)
	case "import":
		err = runImport(os.Args[2:], cfg, logger)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  threatcanvas validate -preset <file>")
	fmt.Fprintln(os.Stderr, "  threatcanvas import -preset <file> -bundle <file> [-out <file>]")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runValidate migrates and validates a preset file, printing the complete
// violation report on failure
func runValidate(args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	presetPath := fs.String("preset", "", "path to the preset JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *presetPath == "" {
		return fmt.Errorf("-preset is required")
	}

	p, err := loadPreset(*presetPath)
	if err != nil {
		return err
	}

	logger.Info("preset is valid",
		zap.String("id", p.ID),
		zap.String("version", p.Version),
		zap.Int("node_types", len(p.NodeTypes)),
		zap.Int("relationships", len(p.Relationships)),
		zap.Int("ontology_mappings", len(p.Ontology)))
	return nil
}

// runImport imports a STIX bundle under a preset and writes the resulting
// document export
func runImport(args []string, cfg *config.Config, logger *zap.Logger) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	presetPath := fs.String("preset", "", "path to the preset JSON file")
	bundlePath := fs.String("bundle", "", "path to the STIX bundle JSON file")
	outPath := fs.String("out", "", "path to write the document export (default stdout)")
	title := fs.String("title", "Imported document", "document title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *presetPath == "" || *bundlePath == "" {
		return fmt.Errorf("-preset and -bundle are required")
	}

	p, err := loadPreset(*presetPath)
	if err != nil {
		return err
	}

	bundleData, err := os.ReadFile(*bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}

	publisher := events.NewPublisher()
	docStore := store.New(p, *title, store.Config{HistoryDepth: cfg.HistoryDepth}, publisher, logger)
	pipeline := importer.NewPipeline(docStore, nil, publisher, logger)

	summary, err := pipeline.Import(context.Background(), bundleData)
	if err != nil {
		return err
	}
	for _, warning := range summary.Warnings {
		logger.Warn("import warning", zap.String("warning", warning))
	}
	for _, e := range summary.Errors {
		logger.Warn("import error", zap.String("error", e))
	}

	engine, err := inference.New(p, cfg.InferenceMaxPasses, logger)
	if err != nil {
		return err
	}
	derived, warnings := engine.Derive(docStore.Snapshot())
	for _, w := range warnings {
		logger.Warn("inference warning", zap.String("warning", w.String()))
	}
	logger.Info("inference recomputed", zap.Int("derived_edges", len(derived)))

	export, err := docStore.Export()
	if err != nil {
		return err
	}

	if *outPath == "" {
		fmt.Println(string(export))
		return nil
	}
	if err := os.WriteFile(*outPath, export, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	logger.Info("document written", zap.String("path", *outPath))
	return nil
}

// loadPreset reads a preset file and migrates it to the current schema
// version, validating the result
func loadPreset(path string) (*preset.Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset: %w", err)
	}
	return preset.NewMigrator().Migrate(data)
}
