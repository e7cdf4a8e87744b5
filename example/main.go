package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	affectlab "github.com/Skryldev/affect-lab"
)

func main() {
	// ── Graceful shutdown via signal ──────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Progress channel ──────────────────────────────────────────────────
	progressCh := make(chan affectlab.ProgressUpdate, 32)
	go func() {
		for upd := range progressCh {
			fmt.Printf("[%s] stage=%-8s %.0f%%  %s\n",
				shortID(upd.JobID), upd.Stage, upd.Percent, upd.Message)
		}
	}()

	// ── Create classifier ─────────────────────────────────────────────────
	classifier, err := affectlab.New(affectlab.Config{
		Model: affectlab.ModelConfig{
			TopologyPath: envOr("AFFECTLAB_TOPOLOGY", "model/mlp_model.json"),
			WeightsPath:  envOr("AFFECTLAB_WEIGHTS", "model/mlp_model.bin"),
		},
		StorePath:  "/tmp/affectlab-example.db",
		Workers:    4,
		ProgressCh: progressCh,
	})
	if err != nil {
		log.Fatalf("failed to create classifier: %v", err)
	}
	defer func() {
		if err := classifier.Close(); err != nil {
			log.Printf("close: %v", err)
		}
		close(progressCh)
	}()

	// ── Example 1: Single file ───────────────────────────────────────────
	fmt.Println("\n── Example 1: Single File ──")
	singleExample(ctx, classifier)

	// ── Example 2: Batch ─────────────────────────────────────────────────
	fmt.Println("\n── Example 2: Batch ──")
	batchExample(ctx, classifier)

	// ── Example 3: Probe audio ───────────────────────────────────────────
	fmt.Println("\n── Example 3: Probe Audio ──")
	probeExample(ctx, classifier)

	// ── Example 4: History ───────────────────────────────────────────────
	fmt.Println("\n── Example 4: History ──")
	historyExample(ctx, classifier)
}

func singleExample(ctx context.Context, c *affectlab.Classifier) {
	result, err := c.ClassifyFile(ctx, envOr("AFFECTLAB_INPUT", "/tmp/sample.wav"),
		affectlab.WithTimeout(time.Minute),
	)
	if err != nil {
		fmt.Printf("classification failed: %v\n", err)
		return
	}

	fmt.Printf("Done! took=%s label=%s\n", result.ProcessingTime, result.Label)
	fmt.Printf("Scores: neutral=%.2f calm=%.2f happy=%.2f sad=%.2f angry=%.2f fearful=%.2f disgust=%.2f surprised=%.2f\n",
		result.Scores.Neutral, result.Scores.Calm, result.Scores.Happy, result.Scores.Sad,
		result.Scores.Angry, result.Scores.Fearful, result.Scores.Disgust, result.Scores.Surprised,
	)
}

func batchExample(ctx context.Context, c *affectlab.Classifier) {
	jobs := []affectlab.BatchJob{
		{ID: "job-001", InputPath: "/tmp/clip1.wav"},
		{ID: "job-002", InputPath: "/tmp/clip2.mp3"},
		{
			ID:        "job-003",
			InputPath: "/tmp/clip3.flac",
			Options:   &affectlab.ClassificationOptions{Timeout: 30 * time.Second},
		},
	}

	resultsCh, err := c.ClassifyBatch(ctx, jobs)
	if err != nil {
		fmt.Printf("batch failed to start: %v\n", err)
		return
	}

	successCount := 0
	for res := range resultsCh {
		if res.Err != nil {
			fmt.Printf("[%s] FAILED: %v\n", res.JobID, res.Err)
			continue
		}
		successCount++
		fmt.Printf("[%s] OK label=%s took=%s\n", res.JobID, res.Result.Label, res.Result.ProcessingTime)
	}

	fmt.Printf("Batch complete: %d/%d succeeded\n", successCount, len(jobs))
}

func probeExample(ctx context.Context, c *affectlab.Classifier) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	meta, err := c.ProbeAudio(probeCtx, envOr("AFFECTLAB_INPUT", "/tmp/sample.wav"))
	if err != nil {
		fmt.Printf("probe failed: %v\n", err)
		return
	}

	fmt.Printf("Probe result:\n")
	fmt.Printf("  Duration  : %s\n", meta.Duration)
	fmt.Printf("  Codec     : %s\n", meta.Codec)
	fmt.Printf("  SampleRate: %d Hz\n", meta.SampleRate)
	fmt.Printf("  Channels  : %d\n", meta.Channels)
	fmt.Printf("  Format    : %s\n", meta.Format)
}

func historyExample(ctx context.Context, c *affectlab.Classifier) {
	results, err := c.History(ctx, 5)
	if err != nil {
		fmt.Printf("history failed: %v\n", err)
		return
	}
	for _, r := range results {
		fmt.Printf("  %s  %-9s %s\n", r.CreatedAt.Format(time.Kitchen), r.Label, r.Source)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
