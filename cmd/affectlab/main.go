package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	affectlab "github.com/Skryldev/affect-lab"
	"github.com/Skryldev/affect-lab/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	v       = viper.New()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "affectlab",
	Short:         "affectlab - speech emotion classifier",
	Long:          "Classifies the emotional affect of short speech clips into eight categories and serves the scores over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./affectlab.yaml or ./config/affectlab.yaml)")
	pf.String("topology", "", "Keras topology JSON")
	pf.String("weights", "", "float32 weight blob")
	pf.String("onnx", "", "ONNX model, overrides --topology/--weights")
	pf.String("store", "", "SQLite history database")
	pf.Bool("no-store", false, "do not record results")
	pf.Int("workers", 0, "parallel batch workers")
	pf.Duration("timeout", 0, "per-clip timeout")
	pf.BoolP("verbose", "v", false, "development logging")

	bindFlag(pf.Lookup("topology"), "model.topology")
	bindFlag(pf.Lookup("weights"), "model.weights")
	bindFlag(pf.Lookup("onnx"), "model.onnx")
	bindFlag(pf.Lookup("store"), "store.path")
	bindFlag(pf.Lookup("workers"), "workers")
	bindFlag(pf.Lookup("timeout"), "timeout")
	bindFlag(pf.Lookup("verbose"), "log.development")

	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("upload-dir", "", "directory for staged uploads")
	bindFlag(serveCmd.Flags().Lookup("addr"), "server.addr")
	bindFlag(serveCmd.Flags().Lookup("upload-dir"), "server.upload_dir")

	historyCmd.Flags().Int("limit", 20, "number of results, 0 for all")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func bindFlag(f *pflag.Flag, key string) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

// open builds a Classifier from the loaded config.
func open(cmd *cobra.Command) (*affectlab.Classifier, *config.Config, error) {
	cfg := config.FromContext(cmd.Context())

	store := ""
	if cfg.Store.Enabled && !noStore(cmd) {
		store = cfg.Store.Path
	}

	c, err := affectlab.New(affectlab.Config{
		Model: affectlab.ModelConfig{
			TopologyPath: cfg.Model.Topology,
			WeightsPath:  cfg.Model.Weights,
			ONNXPath:     cfg.Model.ONNX,
			ONNXLibrary:  cfg.Model.ONNXLibrary,
		},
		FFmpegPath:  cfg.FFmpeg.Path,
		FFprobePath: cfg.FFmpeg.ProbePath,
		StorePath:   store,
		Development: cfg.Log.Development,
		Workers:     cfg.Workers,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func noStore(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("no-store")
	return on
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var classifyCmd = &cobra.Command{
	Use:   "classify [audio file]",
	Short: "Classify one clip and print its score record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := open(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.ClassifyFile(cmd.Context(), args[0], affectlab.WithTimeout(cfg.Timeout))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res.Scores)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [audio files...]",
	Short: "Classify several clips concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := open(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		jobs := make([]affectlab.BatchJob, len(args))
		for i, path := range args {
			jobs[i] = affectlab.BatchJob{
				ID:        fmt.Sprintf("%03d", i),
				InputPath: path,
				Options: &affectlab.ClassificationOptions{
					Timeout: cfg.Timeout,
					Persist: true,
					Source:  path,
				},
			}
		}

		results, err := c.ClassifyBatch(cmd.Context(), jobs)
		if err != nil {
			return err
		}

		failed := 0
		out := cmd.OutOrStdout()
		for r := range results {
			if r.Err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.JobID, r.Err)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.JobID, r.Result.Label, r.Result.Source)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d clips failed", failed, len(jobs))
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [audio file]",
	Short: "Print ffprobe metadata for a clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := open(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := c.ProbeAudio(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), meta)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded classifications, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := open(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		results, err := c.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format(time.RFC3339), r.ID, r.Label, r.Source)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the classifier over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := open(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		log := c.Logger()
		handler := c.Handler(affectlab.HandlerConfig{
			UploadDir:      cfg.Server.UploadDir,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Timeout:        cfg.Timeout,
		})
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
		log.Info("listening", zap.String("addr", cfg.Server.Addr))

		select {
		case err := <-serverErr:
			return err
		case <-cmd.Context().Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Write(cmd.OutOrStdout(), config.FromContext(cmd.Context()))
	},
}
