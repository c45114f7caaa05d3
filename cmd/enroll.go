package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/facepay/internal/config"
	"github.com/kozaktomas/facepay/internal/database"
	"github.com/kozaktomas/facepay/internal/database/postgres"
	"github.com/kozaktomas/facepay/internal/inference"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll identities from face images",
	Long: `Detect the most confident face in each image, compute its embedding and
store it as a reference for the user. Requires DATABASE_URL.

A running server picks new enrollments up after POST /api/v1/identities/reload.

Examples:
  # Enroll a single image
  facepay enroll --user u123 --name "Jan Novák" --image jan.jpg

  # Bulk enroll, one sub-directory per user id
  facepay enroll --dir ./gallery --concurrency 4`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("user", "", "User id to enroll (with --image)")
	enrollCmd.Flags().String("name", "", "Display name for --user")
	enrollCmd.Flags().String("image", "", "Face image to enroll for --user")
	enrollCmd.Flags().String("dir", "", "Directory with one sub-directory of images per user id")
	enrollCmd.Flags().Int("concurrency", 4, "Number of parallel workers for --dir")
	enrollCmd.Flags().Float64("min-confidence", 0, "Minimum detection confidence (default MIN_DETECTION_CONFIDENCE)")
}

var errNoFace = errors.New("no face above the confidence threshold")

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// enrollJob is one image to enroll for a user
type enrollJob struct {
	userID string
	path   string
}

// enroller computes reference embeddings and stores them
type enroller struct {
	client        *inference.Client
	store         database.IdentityWriter
	model         string
	minConfidence float64
}

// embedFile returns the embedding of the most confident face in the image at path.
func (e *enroller) embedFile(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := inference.DecodeImage(data)
	if err != nil {
		return nil, err
	}

	detections, err := e.client.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	best := -1
	for i, det := range detections {
		if det.Confidence < e.minConfidence || det.BBox.Empty() {
			continue
		}
		if best < 0 || det.Confidence > detections[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil, errNoFace
	}

	embedding, err := e.client.Embed(ctx, img, detections[best].BBox)
	if err != nil {
		return nil, fmt.Errorf("face embedding failed: %w", err)
	}
	return embedding, nil
}

func (e *enroller) enroll(ctx context.Context, userID, name, path string) error {
	embedding, err := e.embedFile(ctx, path)
	if err != nil {
		return err
	}
	return e.store.SaveEmbedding(ctx, userID, name, embedding, e.model)
}

// collectEnrollJobs walks dir/<user id>/<image> and returns jobs sorted by user id.
func collectEnrollJobs(dir string) ([]enrollJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var jobs []enrollJob
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		userDir := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(userDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", userDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			jobs = append(jobs, enrollJob{userID: entry.Name(), path: filepath.Join(userDir, f.Name())})
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].userID < jobs[j].userID })
	return jobs, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	userID := mustGetString(cmd, "user")
	imagePath := mustGetString(cmd, "image")
	dir := mustGetString(cmd, "dir")

	if dir == "" && (userID == "" || imagePath == "") {
		return errors.New("either --dir or both --user and --image are required")
	}
	if dir != "" && (userID != "" || imagePath != "") {
		return errors.New("--dir cannot be combined with --user or --image")
	}

	ctx := cmd.Context()
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	minConfidence := mustGetFloat64(cmd, "min-confidence")
	if minConfidence <= 0 {
		minConfidence = cfg.Inference.MinDetectionConfidence
	}

	fmt.Println("Connecting to PostgreSQL...")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	e := &enroller{
		client:        inference.NewClient(cfg.Inference.URL, cfg.Inference.Model, cfg.GetModelProfile().InputSize),
		store:         postgres.NewIdentityRepository(pool),
		model:         cfg.Inference.Model,
		minConfidence: minConfidence,
	}

	if dir == "" {
		if err := e.enroll(ctx, userID, mustGetString(cmd, "name"), imagePath); err != nil {
			return fmt.Errorf("failed to enroll %s: %w", userID, err)
		}
		fmt.Printf("Enrolled %s from %s\n", userID, imagePath)
		return nil
	}

	jobs, err := collectEnrollJobs(dir)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No images found")
		return nil
	}
	return runBulkEnroll(ctx, e, jobs, mustGetInt(cmd, "concurrency"))
}

func runBulkEnroll(ctx context.Context, e *enroller, jobs []enrollJob, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	fmt.Printf("Images to enroll: %d\n\n", len(jobs))

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, noFaceCount int
	var failures []string
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1)

			err := e.enroll(ctx, job.userID, "", job.path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successCount++
			case errors.Is(err, errNoFace):
				noFaceCount++
			default:
				failures = append(failures, fmt.Sprintf("%s: %v", job.path, err))
			}
		})
	}

	wg.Wait()
	fmt.Println()

	for _, f := range failures {
		fmt.Printf("  error: %s\n", f)
	}
	fmt.Printf("\nCompleted: %d enrolled, %d without a usable face, %d errors\n",
		successCount, noFaceCount, len(failures))

	if count, err := e.store.Count(ctx); err == nil {
		fmt.Printf("Total identities in database: %d\n", count)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d images failed to enroll", len(failures), len(jobs))
	}
	return nil
}
