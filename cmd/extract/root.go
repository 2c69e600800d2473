package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/agent"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/document/image"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/extraction"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/internal/utils/validator"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

var (
	cfgFile         string
	format          string
	allowDuplicates bool
	outDir          string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract every embedded image of a PDF into a zip archive",
	Long: `extract reads a PDF, decodes the raster images referenced by each page and
writes them to {name}_extracted-images.zip. Identical images are stored once
unless --allow-duplicates is set.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runExtract,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "extraction config file (yaml)")
	rootCmd.Flags().StringVarP(&format, "format", "f", "", "output image format (default from config, png)")
	rootCmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "keep pixel-identical images")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write the archive to")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log extraction progress to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(level string) (logger.Logger, error) {
	if !verbose {
		return logger.NewNopLogger(), nil
	}
	return logger.NewLogger(
		logger.WithLevel(level),
		logger.WithEncoding("console"),
		logger.WithOutputPaths([]string{"stderr"}),
	)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadExtractConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	codec := image.NewCodec(
		image.WithJPEGQuality(cfg.Extraction.JPEGQuality),
		image.WithPNGCompression(cfg.Extraction.PNGCompression),
	)
	extractor := extraction.NewExtractor(codec, log, extraction.WithOptions(extraction.Options{
		SizeThreshold:          cfg.Extraction.SizeThreshold,
		PageThreshold:          cfg.Extraction.PageThreshold,
		Workers:                cfg.Extraction.Workers,
		MaxConsecutiveFailures: cfg.Extraction.MaxConsecutiveFailures,
	}))
	v := validator.NewUploadValidator(log, &validator.ValidatorConfig{
		MaxFileSize:  cfg.Upload.MaxFileSize,
		AllowedTypes: map[string][]string{".pdf": {"application/pdf"}},
	})
	svc := images.NewService(agent.NewLoaderFactory(log), extractor, v, nil, nil, log, &images.ServiceConfig{
		DefaultFormat: cfg.Extraction.DefaultFormat,
	})

	archive, err := svc.ExtractImages(ctx, filepath.Base(path), data, models.ExtractOptions{
		Format:          format,
		AllowDuplicates: allowDuplicates,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	target := filepath.Join(outDir, archive.FileName)
	if err := os.WriteFile(target, archive.Data, 0644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d images (%s mode)\n", target, archive.ImageCount, archive.Mode)
	return nil
}
