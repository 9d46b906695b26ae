package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <dir|file>",
	Short: "Store face descriptors for a user from images",
	Long: `Detect the single best face in each image and store its descriptor
under the given label for the user. A directory is scanned for .jpg, .jpeg,
.png and .bmp files (not recursively).

Examples:
  # Enroll all photos of Bob for alice
  facecam enroll --email alice@example.com --label Bob ./photos/bob

  # Enroll a single image
  facecam enroll --email alice@example.com --label Bob bob.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("email", "", "Account the descriptors belong to (required)")
	enrollCmd.Flags().String("label", "", "Name stored with the descriptors (required)")
	enrollCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel workers")
	_ = enrollCmd.MarkFlagRequired("email")
	_ = enrollCmd.MarkFlagRequired("label")
}

// collectImages returns path itself or the image files directly inside it.
func collectImages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isImageFile(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// enrollResult is the outcome of one image.
type enrollResult struct {
	path string
	err  error
}

func enrollImage(ctx context.Context, det detector.Detector, store database.DescriptorWriter, owner, label, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	result, err := detector.DetectScaled(ctx, det, data, constants.MaxImageSize)
	if err != nil {
		return err
	}
	face, err := detector.Single(result)
	if err != nil {
		return err
	}
	_, err = store.Insert(ctx, owner, database.StoredDescriptor{
		Label:      label,
		Descriptor: face.Descriptor,
		Model:      result.Model,
		BBox:       face.BBox,
		Score:      face.Score,
	})
	return err
}

func runEnroll(cmd *cobra.Command, args []string) error {
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	label := facematch.CleanLabel(mustGetString(cmd, "label"))
	if label == "" {
		return fmt.Errorf("--label must not be empty")
	}
	if len(label) > constants.MaxLabelLength {
		return fmt.Errorf("--label must be at most %d characters", constants.MaxLabelLength)
	}

	files, err := collectImages(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	ctx := context.Background()
	cfg, user, store, err := openUserStore(ctx, mustGetString(cmd, "email"))
	if err != nil {
		return err
	}
	defer closeStorage()

	det, err := detector.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()

	before, _ := store.Count(ctx, user.ID)
	fmt.Printf("Enrolling %d images as %q for %s (%d descriptors stored)\n\n", len(files), label, user.Email, before)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var failed []enrollResult
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, path := range files {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := enrollImage(ctx, det, store, user.ID, label, path); err != nil {
				mu.Lock()
				failed = append(failed, enrollResult{path: path, err: err})
				mu.Unlock()
			}
			_ = bar.Add(1)
		}(path)
	}

	wg.Wait()
	fmt.Println()

	sort.Slice(failed, func(i, j int) bool { return failed[i].path < failed[j].path })
	for _, f := range failed {
		fmt.Printf("  skipped %s: %v\n", f.path, f.err)
	}

	after, _ := store.Count(ctx, user.ID)
	fmt.Printf("\nCompleted: %d enrolled, %d skipped\n", len(files)-len(failed), len(failed))
	fmt.Printf("Descriptors stored for %s: %d\n", user.Email, after)
	return nil
}
